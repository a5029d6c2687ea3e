package engine

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openmeet-team/fieldwork/internal/models"
)

// Option keywords excluded from randomization. Matching is done on
// normalized text (translation stripped, case-folded).
var pinnedKeywords = []string{
	"none",
	"nota",
	"independent",
	"other",
	"not eligible",
	"no response",
	"refused",
	"did not vote",
}

// isPinnedOption reports whether an option is exempt from shuffling.
func isPinnedOption(text string) bool {
	norm := models.NormalizeText(text)
	for _, kw := range pinnedKeywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// isTrailingOption reports whether an option always sorts last ("Other",
// "Others", "Other (specify)", ...).
func isTrailingOption(text string) bool {
	return strings.Contains(models.NormalizeText(text), "other")
}

// ShuffleCache memoizes the display order of choice questions per session.
// An order, once computed, never changes for the remainder of the session.
type ShuffleCache struct {
	mu     sync.Mutex
	orders map[string][]models.Option
	rng    *rand.Rand
}

// NewShuffleCache creates a cache seeded from the given source. Pass a fixed
// seed in tests for reproducible orders.
func NewShuffleCache(seed int64) *ShuffleCache {
	return &ShuffleCache{
		orders: make(map[string][]models.Option),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// DisplayOrder returns the stable display order of a question's options for
// the given session. The first call computes the order; subsequent calls for
// the same (session, question) return the cached slice.
//
// Only multiple-choice questions with shuffling enabled are randomized.
// Single-choice questions keep authored order with trailing options moved to
// the end; dropdowns keep authored order untouched.
func (c *ShuffleCache) DisplayOrder(sessionID uuid.UUID, q *models.Question) []models.Option {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionID.String() + ":" + q.ID
	if cached, ok := c.orders[key]; ok {
		return cached
	}

	var order []models.Option
	switch {
	case q.Type == models.QuestionTypeDropdown:
		order = append([]models.Option(nil), q.Options...)
	case q.Type == models.QuestionTypeMultipleChoice && q.Settings.ShuffleEnabled():
		order = c.shuffled(q.Options)
	default:
		order = moveTrailingLast(q.Options)
	}

	c.orders[key] = order
	return order
}

// shuffled partitions options into pinned, trailing, and regular subsets,
// Fisher–Yates shuffles the regular subset, and reassembles with pinned
// options at their original relative positions and trailing options last.
func (c *ShuffleCache) shuffled(options []models.Option) []models.Option {
	var leading []models.Option // non-trailing, original order
	var trailing []models.Option
	for _, opt := range options {
		if isTrailingOption(opt.Text) {
			trailing = append(trailing, opt)
		} else {
			leading = append(leading, opt)
		}
	}

	var regular []models.Option
	pinnedAt := make(map[int]models.Option)
	for i, opt := range leading {
		if isPinnedOption(opt.Text) {
			pinnedAt[i] = opt
		} else {
			regular = append(regular, opt)
		}
	}

	// Fisher–Yates, in-place swap from the last index down to 1.
	for i := len(regular) - 1; i >= 1; i-- {
		j := c.rng.Intn(i + 1)
		regular[i], regular[j] = regular[j], regular[i]
	}

	out := make([]models.Option, 0, len(options))
	next := 0
	for i := range leading {
		if opt, pinned := pinnedAt[i]; pinned {
			out = append(out, opt)
		} else {
			out = append(out, regular[next])
			next++
		}
	}
	return append(out, trailing...)
}

func moveTrailingLast(options []models.Option) []models.Option {
	out := make([]models.Option, 0, len(options))
	var trailing []models.Option
	for _, opt := range options {
		if isTrailingOption(opt.Text) {
			trailing = append(trailing, opt)
		} else {
			out = append(out, opt)
		}
	}
	return append(out, trailing...)
}
