package significance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreFixtures(t *testing.T) {
	tests := []struct {
		name   string
		base   float64
		social SocialContext
		want   float64
	}{
		{"novel with two friends", 8, SocialContext{FriendReferenceCount: 2}, 14.4},
		{"familiar no friends", 8, SocialContext{EquivalentInCanon: true}, 8},
		{"novel no friends", 10, SocialContext{}, 15},
		{"familiar ten friends", 5, SocialContext{FriendReferenceCount: 10, EquivalentInCanon: true}, 10},
		{"clamped high", 42, SocialContext{EquivalentInCanon: true}, 10},
		{"clamped low", 0, SocialContext{EquivalentInCanon: true}, 1},
		{"negative refs ignored", 4, SocialContext{FriendReferenceCount: -3, EquivalentInCanon: true}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.base, tt.social))
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	social := SocialContext{FriendReferenceCount: 7}
	first := Score(6.3, social)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, math.Float64bits(first), math.Float64bits(Score(6.3, social)))
	}
}

func TestScoreNaN(t *testing.T) {
	assert.Equal(t, 1.5, Score(math.NaN(), SocialContext{}))
}
