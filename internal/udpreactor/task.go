// File: internal/udpreactor/task.go
package udpreactor

import "github.com/momentics/hioreactor/api"

// datagramTask packages one received datagram as a worker task in
// batching mode (spec.md 4.F): "{buffer, size, sender_ip, sender_port}
// ... The task owns the pool buffer and must return it on destruction".
type datagramTask struct {
	buf     api.Buffer
	size    int
	ip      string
	port    int
	handler RecvCallback
}

// Run implements dispatch.Task.
func (t *datagramTask) Run() {
	defer t.buf.Release()
	if t.handler != nil {
		t.handler(t.buf.Bytes()[:t.size], t.ip, t.port)
	}
}
