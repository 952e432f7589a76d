package reconcile

import (
	"context"

	"github.com/getmockd/mockctl/pkg/control"
)

// Local adapts an in-process control surface to Target.
func Local(s *control.Surface) Target {
	return local{s}
}

type local struct{ s *control.Surface }

func (l local) SetEngine(_ context.Context, enable bool, descriptor string) error {
	l.s.SetEngine(enable, descriptor)
	return nil
}

func (l local) SetRecordMissing(_ context.Context, enable bool) error {
	l.s.SetRecordMissing(enable)
	return nil
}

func (l local) SetRecordMissingFailures(_ context.Context, enable bool) error {
	l.s.SetRecordMissingFailures(enable)
	return nil
}

func (l local) IsEngineEnabled(context.Context) (bool, error) {
	return l.s.IsEngineEnabled(), nil
}

func (l local) LastFailure(context.Context) (string, error) {
	if err := l.s.LastError(); err != nil {
		return err.Error(), nil
	}
	return "", nil
}
