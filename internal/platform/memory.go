package platform

import (
	"context"
	"sync"
)

// MemoryDirectory 是进程内的 UserDirectory 实现，用于本地运行和测试。
// 未登记的用户在第一次被查询时视为存在且处于激活状态 (AutoRegister = true 时)。
type MemoryDirectory struct {
	mu           sync.RWMutex
	users        map[string]*User
	AutoRegister bool
}

// NewMemoryDirectory 创建一个空的用户目录
func NewMemoryDirectory(autoRegister bool) *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]*User), AutoRegister: autoRegister}
}

// Put 写入或覆盖一个用户。
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = &u
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetUserByID(_ context.Context, userID string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		if !d.AutoRegister {
			return nil, ErrUserNotFound
		}
		u = &User{ID: userID, Username: userID, IsActive: true}
		d.users[userID] = u
	}
	cp := *u
	return &cp, nil
}

func (d *MemoryDirectory) SetUserActive(_ context.Context, userID string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

var _ UserDirectory = (*MemoryDirectory)(nil)
