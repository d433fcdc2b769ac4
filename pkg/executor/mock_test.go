package executor

import (
	"context"
	"fmt"

	"github.com/hass-tools/confsync/pkg/transfer"
)

// mockTransfer records requests and returns a canned outcome.
type mockTransfer struct {
	requests []*transfer.Request
	outcome  *transfer.Outcome
	err      error
}

func (m *mockTransfer) Transfer(ctx context.Context, req *transfer.Request) (*transfer.Outcome, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.outcome != nil {
		return m.outcome, nil
	}
	return nil, fmt.Errorf("mockTransfer: no outcome configured")
}
