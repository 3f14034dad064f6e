// Package consent 维护每个主体对技能的授权记录。
package consent

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Record 是一条授权：同一主体同一技能最多一条，重复授权覆盖旧记录。
type Record struct {
	Skill     string    `json:"skill"`
	Scope     string    `json:"scope,omitempty"`
	GrantedAt time.Time `json:"grantedAt"`
}

type actorGrants struct {
	mu     sync.RWMutex
	grants map[string]Record // key 为小写技能名
}

// Registry 是进程内的授权表，没有过期模型，重启后清空。
type Registry struct {
	actors sync.Map // actorID -> *actorGrants
	now    func() time.Time
}

// NewRegistry 创建空的授权表
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

func skillKey(skill string) string {
	return strings.ToLower(strings.TrimSpace(skill))
}

func (r *Registry) entry(actorID string, create bool) *actorGrants {
	if v, ok := r.actors.Load(actorID); ok {
		return v.(*actorGrants)
	}
	if !create {
		return nil
	}
	v, _ := r.actors.LoadOrStore(actorID, &actorGrants{grants: make(map[string]Record)})
	return v.(*actorGrants)
}

// Grant 写入或覆盖授权，返回生效的记录。技能名为空时不做任何事。
func (r *Registry) Grant(actorID, skill, scope string) (Record, bool) {
	key := skillKey(skill)
	if key == "" {
		return Record{}, false
	}
	rec := Record{Skill: strings.TrimSpace(skill), Scope: strings.TrimSpace(scope), GrantedAt: r.now().UTC()}
	e := r.entry(actorID, true)
	e.mu.Lock()
	e.grants[key] = rec
	e.mu.Unlock()
	return rec, true
}

// Revoke 删除授权，返回之前是否存在。
func (r *Registry) Revoke(actorID, skill string) bool {
	e := r.entry(actorID, false)
	if e == nil {
		return false
	}
	key := skillKey(skill)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.grants[key]; !ok {
		return false
	}
	delete(e.grants, key)
	return true
}

// HasConsent 在存在该技能的授权，且调用方未指定 scope 或已存 scope 包含请求的 scope
// (大小写不敏感的子串) 时返回 true。
func (r *Registry) HasConsent(actorID, skill, scope string) bool {
	e := r.entry(actorID, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	rec, ok := e.grants[skillKey(skill)]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	want := strings.TrimSpace(scope)
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Scope), strings.ToLower(want))
}

// List 返回主体当前的全部授权，按技能名排序。
func (r *Registry) List(actorID string) []Record {
	e := r.entry(actorID, false)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	out := make([]Record, 0, len(e.grants))
	for _, rec := range e.grants {
		out = append(out, rec)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return skillKey(out[i].Skill) < skillKey(out[j].Skill) })
	return out
}
