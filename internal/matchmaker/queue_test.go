package matchmaker

import (
	"testing"

	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestFiltersAccept(t *testing.T) {
	tests := []struct {
		name     string
		filters  *protocol.Filters
		profile  *protocol.Profile
		expected bool
	}{
		{
			name:     "nil filters accept everyone",
			filters:  nil,
			profile:  nil,
			expected: true,
		},
		{
			name:     "empty filters accept an empty profile",
			filters:  &protocol.Filters{},
			profile:  &protocol.Profile{},
			expected: true,
		},
		{
			name:     "gender match is case insensitive",
			filters:  &protocol.Filters{Gender: "Female"},
			profile:  &protocol.Profile{Gender: "female"},
			expected: true,
		},
		{
			name:     "gender mismatch",
			filters:  &protocol.Filters{Gender: "female"},
			profile:  &protocol.Profile{Gender: "male"},
			expected: false,
		},
		{
			name:     "gender filter rejects a missing profile",
			filters:  &protocol.Filters{Gender: "female"},
			profile:  nil,
			expected: false,
		},
		{
			name:     "country match",
			filters:  &protocol.Filters{Country: "de"},
			profile:  &protocol.Profile{Country: "DE"},
			expected: true,
		},
		{
			name:     "country mismatch",
			filters:  &protocol.Filters{Country: "de"},
			profile:  &protocol.Profile{Country: "fr"},
			expected: false,
		},
		{
			name:     "age inside range",
			filters:  &protocol.Filters{MinAge: 18, MaxAge: 30},
			profile:  &protocol.Profile{Age: 25},
			expected: true,
		},
		{
			name:     "age below range",
			filters:  &protocol.Filters{MinAge: 18},
			profile:  &protocol.Profile{Age: 16},
			expected: false,
		},
		{
			name:     "age above range",
			filters:  &protocol.Filters{MaxAge: 30},
			profile:  &protocol.Profile{Age: 40},
			expected: false,
		},
		{
			name:     "unset age bounds ignore the profile age",
			filters:  &protocol.Filters{Gender: "male"},
			profile:  &protocol.Profile{Gender: "male", Age: 99},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, filtersAccept(tt.filters, tt.profile))
		})
	}
}

func TestCompatibleIsSymmetric(t *testing.T) {
	a := &session{
		profile: &protocol.Profile{Gender: "female", Age: 22},
		filters: &protocol.Filters{Gender: "male"},
	}
	b := &session{
		profile: &protocol.Profile{Gender: "male", Age: 28},
		filters: &protocol.Filters{Gender: "female", MinAge: 20},
	}
	c := &session{
		profile: &protocol.Profile{Gender: "male", Age: 28},
		filters: &protocol.Filters{Gender: "female", MinAge: 30},
	}

	require.True(t, compatible(a, b))
	require.True(t, compatible(b, a))

	// One-sided rejection breaks the pair in both directions.
	require.False(t, compatible(a, c))
	require.False(t, compatible(c, a))
}
