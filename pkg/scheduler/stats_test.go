package scheduler_test

import (
	"testing"

	"github.com/aplowman/hpcflow-new/internal/testutil"
	"github.com/aplowman/hpcflow-new/pkg/scheduler"
	"github.com/stretchr/testify/assert"
)

const sampleAccountingOutput = `Total System Usage
    WALLCLOCK         UTIME        STIME           CPU
==============================================================
qname        short.q
hostname     node801.cluster
jobname      damask_runs
jobnumber    3401858
taskid       undefined
qsub_time    Fri Mar 15 09:12:01 2024
ru_wallclock 12
==============================================================
qname        all.q
hostname     node802.cluster
jobname      damask_runs
jobnumber    3401859
taskid       3
qsub_time    Fri Mar 15 09:12:05 2024
ru_wallclock 340
maxvmem      2.1G
`

func TestParseAccountingOutput(t *testing.T) {
	t.Run("MatchByTaskID", func(t *testing.T) {
		info := scheduler.ParseAccountingOutput(sampleAccountingOutput, 3)
		assert.Equal(t, "3", info["taskid"])
		assert.Equal(t, "all.q", info["qname"])
		assert.Equal(t, "340", info["ru_wallclock"])
		assert.Equal(t, "2.1G", info["maxvmem"])
		// The non-matching first block must not leak into the result.
		assert.NotEqual(t, "3401858", info["jobnumber"])
	})

	t.Run("UndefinedTaskIDMatchesAnyTask", func(t *testing.T) {
		// The first block has taskid undefined, so it matches regardless of
		// the requested task.
		info := scheduler.ParseAccountingOutput(sampleAccountingOutput, 0)
		assert.Equal(t, "undefined", info["taskid"])
		assert.Equal(t, "short.q", info["qname"])
		assert.Equal(t, "12", info["ru_wallclock"])
	})

	t.Run("NoMatchReturnsEmpty", func(t *testing.T) {
		onlyTask3 := `header
==============================================================
jobnumber    3401859
taskid       3
`
		info := scheduler.ParseAccountingOutput(onlyTask3, 5)
		assert.Empty(t, info)
	})

	t.Run("EmptyOutput", func(t *testing.T) {
		assert.Empty(t, scheduler.ParseAccountingOutput("", 0))
		assert.Empty(t, scheduler.ParseAccountingOutput("error: job id not found", 0))
	})

	t.Run("HeaderDiscarded", func(t *testing.T) {
		info := scheduler.ParseAccountingOutput(sampleAccountingOutput, 0)
		_, ok := info["WALLCLOCK"]
		assert.False(t, ok)
	})
}

func TestGridEngineCollectStats(t *testing.T) {
	cfg := testutil.TestConfig(t)

	t.Run("ParsesRunnerOutput", func(t *testing.T) {
		ge, err := scheduler.NewGridEngine(cfg, nil, "", "")
		assert.NoError(t, err)
		var gotName string
		var gotArgs []string
		ge.Runner = func(name string, args ...string) ([]byte, error) {
			gotName = name
			gotArgs = args
			return []byte(sampleAccountingOutput), nil
		}

		info, err := ge.CollectStats("3401859", 3)
		assert.NoError(t, err)
		assert.Equal(t, "qacct", gotName)
		assert.Equal(t, []string{"-j", "3401859"}, gotArgs)
		assert.Equal(t, "3", info["taskid"])
	})

	t.Run("QueryFailureYieldsEmptyRecord", func(t *testing.T) {
		ge, err := scheduler.NewGridEngine(cfg, nil, "", "")
		assert.NoError(t, err)
		ge.Runner = func(name string, args ...string) ([]byte, error) {
			return nil, assert.AnError
		}

		info, err := ge.CollectStats("3401859", 3)
		assert.NoError(t, err)
		assert.Empty(t, info)
	})
}
