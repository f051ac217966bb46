package models

import "time"

// WindowStart 计算时间所属的分钟窗口起点（UTC，向下取整到分钟）
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// InWindow 判断目标窗口是否是 now 所在的当前窗口
// 窗口区间为 [WindowStart(now), WindowStart(now)+60s)
func InWindow(targetMinute, now time.Time) bool {
	current := WindowStart(now)
	next := current.Add(time.Minute)
	return !targetMinute.Before(current) && targetMinute.Before(next)
}
