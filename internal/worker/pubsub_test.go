package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/camfinder/camfinder/internal/worker"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestDispatcher_Handle(t *testing.T) {
	job := newJob(&fakeExpirer{ids: []string{"a"}}, worker.SweepConfig{})
	logger := zerolog.Nop()

	tests := []struct {
		name    string
		store   worker.Pinger
		payload string
		wantAck bool
	}{
		{"sweep", pinger{}, `{"job_type":"expiry_sweep"}`, true},
		{"health ok", pinger{}, `{"job_type":"health_check"}`, true},
		{"health failing", pinger{err: errors.New("down")}, `{"job_type":"health_check"}`, false},
		{"unknown job acked", pinger{}, `{"job_type":"provider_refresh"}`, true},
		{"malformed acked", pinger{}, `{not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := worker.NewDispatcher(job, tt.store)
			assert.Equal(t, tt.wantAck, d.Handle(context.Background(), logger, []byte(tt.payload)))
		})
	}
}

func TestDispatcher_FailedSweepIsNacked(t *testing.T) {
	job := newJob(&fakeExpirer{listErr: errors.New("down")}, worker.SweepConfig{})
	d := worker.NewDispatcher(job, pinger{})

	assert.False(t, d.Handle(context.Background(), zerolog.Nop(), []byte(`{"job_type":"expiry_sweep"}`)))
}

func TestDispatcher_NoSweepJob(t *testing.T) {
	d := worker.NewDispatcher(nil, nil)

	assert.False(t, d.Handle(context.Background(), zerolog.Nop(), []byte(`{"job_type":"expiry_sweep"}`)))
	assert.True(t, d.Handle(context.Background(), zerolog.Nop(), []byte(`{"job_type":"health_check"}`)))
}
