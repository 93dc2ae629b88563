package model

import (
	"errors"
	"time"

	deep "github.com/patrikeh/go-deep"

	"github.com/betbot/goroulette/pkg/persistence"
)

// modelSnapshot 持久化信封：版本元数据 + 网络权重
type modelSnapshot struct {
	Version     int64      `json:"version"`
	TrainedAt   time.Time  `json:"trainedAt"`
	SampleCount int        `json:"sampleCount"`
	Network     *deep.Dump `json:"network"`
}

func (m *Manager) saveVersion(v *Version) error {
	return m.store.Save(&modelSnapshot{
		Version:     v.ID,
		TrainedAt:   v.TrainedAt,
		SampleCount: v.SampleCount,
		Network:     v.Dump(),
	})
}

// SaveCurrent 把当前版本写入持久化存储。
func (m *Manager) SaveCurrent() error {
	v := m.current.Load()
	if v == nil {
		return ErrModelNotReady
	}
	if m.store == nil {
		return nil
	}
	return m.saveVersion(v)
}

// LoadPersisted 从持久化存储恢复最近一次训练的版本，
// 后续训练的版本号从恢复的版本继续递增。
func (m *Manager) LoadPersisted() error {
	if m.store == nil {
		return ErrModelNotFound
	}

	var snap modelSnapshot
	if err := m.store.Load(&snap); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return ErrModelNotFound
		}
		return err
	}
	if snap.Network == nil || snap.Network.Config == nil {
		return ErrModelNotFound
	}

	v := newVersion(snap.Version, snap.TrainedAt, snap.SampleCount, snap.Network)
	m.current.Store(v)
	if snap.Version > m.nextID.Load() {
		m.nextID.Store(snap.Version)
	}
	log.Infof("📦 已恢复持久化模型: v%d samples=%d trainedAt=%s",
		v.ID, v.SampleCount, v.TrainedAt.Format("06-01-02 15:04:05"))
	return nil
}
