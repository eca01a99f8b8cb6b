package batch

import (
	"context"

	"github.com/garyjia/booking-orchestrator/internal/domain/fsm"
)

func guard(cond func() bool) fsm.GuardFunc {
	return func(context.Context) bool { return cond() }
}
