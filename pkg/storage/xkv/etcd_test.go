package xkv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEtcd_NilClient(t *testing.T) {
	_, err := NewEtcd(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestEtcd_MapRoot(t *testing.T) {
	e := newEtcd(nil, WithEtcdKeyPrefix("/app/"))
	m := e.Map("triggers").(*etcdMap)
	assert.Equal(t, "/app/triggers/", m.root)
	assert.Equal(t, "triggers", m.Name())

	d := newEtcd(nil, WithEtcdKeyPrefix(""))
	assert.Equal(t, "/xjobstore/jobs/", d.Map("jobs").(*etcdMap).root)
}
