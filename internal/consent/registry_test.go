package consent

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrantRevokeLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.HasConsent("", "File.Delete", ""))

	_, ok := r.Grant("", "File.Delete", "")
	assert.True(t, ok)
	assert.True(t, r.HasConsent("", "File.Delete", ""))
	assert.True(t, r.HasConsent("", "file.delete", ""), "技能名大小写不敏感")

	assert.True(t, r.Revoke("", "File.Delete"))
	assert.False(t, r.HasConsent("", "File.Delete", ""))
	assert.False(t, r.Revoke("", "File.Delete"))
}

func TestScopeMatching(t *testing.T) {
	r := NewRegistry()
	r.Grant("u1", "Device.Control", "Living-Room Lights")

	assert.True(t, r.HasConsent("u1", "Device.Control", ""))
	assert.True(t, r.HasConsent("u1", "Device.Control", "lights"))
	assert.False(t, r.HasConsent("u1", "Device.Control", "garage door"))
	assert.False(t, r.HasConsent("u2", "Device.Control", ""), "授权按主体隔离")
}

func TestGrantOverwritesPreviousScope(t *testing.T) {
	r := NewRegistry()
	r.Grant("u1", "Email.Send", "work")
	r.Grant("u1", "EMAIL.SEND", "family")

	list := r.List("u1")
	assert.Len(t, list, 1)
	assert.Equal(t, "family", list[0].Scope)
	assert.False(t, r.HasConsent("u1", "Email.Send", "work"))
}

func TestGrantRejectsBlankSkill(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Grant("u1", "  ", "x")
	assert.False(t, ok)
	assert.Empty(t, r.List("u1"))
}

func TestConcurrentGrants(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			skill := fmt.Sprintf("Skill.%d", i%5)
			r.Grant("shared", skill, "")
			_ = r.HasConsent("shared", skill, "")
			if i%7 == 0 {
				r.Revoke("shared", skill)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, len(r.List("shared")), 5)
}
