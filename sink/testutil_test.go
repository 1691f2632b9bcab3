package sink

import (
	"github.com/ResuBaka/sinkpipe/utils"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

// newTestLogger builds a utils.Logger backed by a logrus test hook so
// assertions can inspect emitted log entries.
func newTestLogger() (*utils.Logger, *logrustest.Hook) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	return &utils.Logger{Logger: base}, hook
}
