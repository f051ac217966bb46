package registry

import (
	"sync"

	"mockstagram-data-pipeline/internal/models"
)

// Registry 活跃账号注册表
// 只通过 Apply 修改，调度器通过 Snapshot 读取，内部状态不对外暴露
type Registry struct {
	mu          sync.RWMutex
	influencers map[int64]models.Influencer
}

// New 创建空注册表
func New() *Registry {
	return &Registry{
		influencers: make(map[int64]models.Influencer),
	}
}

// Apply 应用一条 membership 事件
// active=true 插入或更新，active=false 直接删除（不做软删除）
// 同一 pk 以事件到达顺序为准，重放同一事件是幂等的
func (r *Registry) Apply(event models.Influencer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Active {
		r.influencers[event.PK] = event
	} else {
		delete(r.influencers, event.PK)
	}
}

// Snapshot 返回当前所有活跃账号的副本，迭代期间注册表可继续变化
func (r *Registry) Snapshot() []models.Influencer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]models.Influencer, 0, len(r.influencers))
	for _, influencer := range r.influencers {
		snapshot = append(snapshot, influencer)
	}
	return snapshot
}

// Size 当前活跃账号数量
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.influencers)
}
