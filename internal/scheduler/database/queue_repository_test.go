package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngageoint/scale/internal/common/scaleerrors"
	"github.com/ngageoint/scale/internal/scheduler/scheduling"
)

func TestGetQueueSql(t *testing.T) {
	tests := map[string]struct {
		mode             scheduling.QueueMode
		ignoreJobTypeIds []int
		limit            int
		expectedFragment []string
		missingFragment  []string
		expectedNumArgs  int
	}{
		"fifo": {
			mode:             scheduling.QueueModeFIFO,
			expectedFragment: []string{`ORDER BY "priority" ASC, "queued" ASC, "id" ASC`},
			missingFragment:  []string{"NOT IN", "LIMIT"},
		},
		"lifo": {
			mode:             scheduling.QueueModeLIFO,
			expectedFragment: []string{`ORDER BY "priority" ASC, "queued" DESC, "id" ASC`},
		},
		"ignored job types": {
			mode:             scheduling.QueueModeFIFO,
			ignoreJobTypeIds: []int{3, 5},
			expectedFragment: []string{`"job_type_id" NOT IN ($1, $2)`},
			missingFragment:  []string{"LIMIT"},
			expectedNumArgs:  2,
		},
		"limit": {
			mode:             scheduling.QueueModeFIFO,
			ignoreJobTypeIds: []int{3},
			limit:            100,
			expectedFragment: []string{`NOT IN ($1)`, `LIMIT $2`},
			expectedNumArgs:  2,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			query, args, err := getQueueSql(tc.mode, tc.ignoreJobTypeIds, tc.limit)
			require.NoError(t, err)
			assert.Contains(t, query, `FROM "queue"`)
			for _, fragment := range tc.expectedFragment {
				assert.Contains(t, query, fragment)
			}
			for _, fragment := range tc.missingFragment {
				assert.NotContains(t, query, fragment)
			}
			assert.Len(t, args, tc.expectedNumArgs)
		})
	}
}

func TestGetQueueSql_InvalidMode(t *testing.T) {
	_, _, err := getQueueSql("RANDOM", nil, 0)
	var e *scaleerrors.ErrInvalidArgument
	assert.ErrorAs(t, err, &e)
}
