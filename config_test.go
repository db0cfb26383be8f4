package hioreactor_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioreactor"
	"github.com/momentics/hioreactor/api"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, hioreactor.DefaultConfig().Validate())
}

func TestConfig_Validate_RejectsBadFields(t *testing.T) {
	cases := map[string]func(c *hioreactor.Config){
		"read_bsize too small":     func(c *hioreactor.Config) { c.ReadBufSize = 0 },
		"read_bsize not aligned":   func(c *hioreactor.Config) { c.ReadBufSize = 1025 },
		"write_bsize too small":    func(c *hioreactor.Config) { c.WriteBufSize = 0 },
		"slab_count out of range":  func(c *hioreactor.Config) { c.BufferPoolSlabCount = 0 },
		"min_retained below slabs": func(c *hioreactor.Config) { c.BufferPoolMinRetained = 0 },
		"epoll_max_events zero":    func(c *hioreactor.Config) { c.EpollMaxEvents = 0 },
		"epoll_default_events none": func(c *hioreactor.Config) { c.EpollDefaultEvents = api.EventNone },
		"worker_queue_length zero": func(c *hioreactor.Config) { c.WorkerQueueLength = 0 },
		"worker_batch_submit > queue": func(c *hioreactor.Config) {
			c.WorkerQueueLength = 4
			c.WorkerBatchSubmit = 5
		},
		"worker_thread_ratio zero": func(c *hioreactor.Config) { c.WorkerThreadRatio = 0 },
		"worker_thread_ratio one":  func(c *hioreactor.Config) { c.WorkerThreadRatio = 1 },
		"udp_recv too small":       func(c *hioreactor.Config) { c.UDPRecvBufSize = 1024 },
		"udp_max_payload too small": func(c *hioreactor.Config) { c.UDPMaxPayload = 100 },
		"udp_max_payload too large": func(c *hioreactor.Config) { c.UDPMaxPayload = 100000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := hioreactor.DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, api.ErrInvalidConfig))
		})
	}
}
