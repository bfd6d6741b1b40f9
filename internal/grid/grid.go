package grid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSize indicates that a grid size is not one of the supported layouts.
var ErrInvalidSize = errors.New("grid: invalid size")

// Size identifies a binder page layout.
type Size string

const (
	Size1x1 Size = "1x1"
	Size2x2 Size = "2x2"
	Size3x3 Size = "3x3"
	Size4x3 Size = "4x3"
	Size4x4 Size = "4x4"

	// DefaultSize is the layout assigned to new binders.
	DefaultSize = Size3x3
)

type layout struct {
	cols int
	rows int
}

var layouts = map[Size]layout{
	Size1x1: {cols: 1, rows: 1},
	Size2x2: {cols: 2, rows: 2},
	Size3x3: {cols: 3, rows: 3},
	Size4x3: {cols: 4, rows: 3},
	Size4x4: {cols: 4, rows: 4},
}

// ParseSize validates raw input and returns a Size.
func ParseSize(rawInput string) (Size, error) {
	size := Size(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := layouts[size]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSize, rawInput)
	}
	return size, nil
}

// Valid reports whether the size is a supported layout.
func (s Size) Valid() bool {
	_, ok := layouts[s]
	return ok
}

// String returns the underlying layout name.
func (s Size) String() string {
	return string(s)
}

// Cols returns the number of slot columns on one card-page.
func (s Size) Cols() int {
	return layouts[s].cols
}

// Rows returns the number of slot rows on one card-page.
func (s Size) Rows() int {
	return layouts[s].rows
}

// CardsPerPage returns the number of slots on one card-page, or 0 for an unknown size.
func CardsPerPage(size Size) int {
	l, ok := layouts[size]
	if !ok {
		return 0
	}
	return l.cols * l.rows
}

// RequiredCardPages returns how many card-pages are needed to hold maxPosition.
// A negative maxPosition means the binder is empty.
func RequiredCardPages(maxPosition, cardsPerPage int) int {
	if maxPosition < 0 || cardsPerPage <= 0 {
		return 0
	}
	return ceilDiv(maxPosition+1, cardsPerPage)
}

// RequiredBinderPages converts card-pages into physical binder pages. The first
// binder page pairs the cover with a single card-page; every later binder page
// holds two card-pages.
func RequiredBinderPages(requiredCardPages int) int {
	if requiredCardPages <= 1 {
		return 1
	}
	return 1 + ceilDiv(requiredCardPages-1, 2)
}

// CardPageToBinderPage returns the zero-based binder page that shows cardPage.
func CardPageToBinderPage(cardPage int) int {
	if cardPage <= 0 {
		return 0
	}
	return (cardPage + 1) / 2
}

// BinderPageToCardPages returns the card-pages shown on a zero-based binder page.
func BinderPageToCardPages(binderPage int) []int {
	if binderPage <= 0 {
		return []int{0}
	}
	return []int{2*binderPage - 1, 2 * binderPage}
}

// CardPageRange returns the half-open position range [start, end) of a card-page.
func CardPageRange(cardPage, cardsPerPage int) (int, int) {
	start := cardPage * cardsPerPage
	return start, start + cardsPerPage
}

// CardPageOf returns the card-page that contains position.
func CardPageOf(position, cardsPerPage int) int {
	if cardsPerPage <= 0 || position < 0 {
		return 0
	}
	return position / cardsPerPage
}

// Slot is the physical location of a position.
type Slot struct {
	CardPage   int
	BinderPage int
	Row        int
	Col        int
}

// Locate maps a position onto its card-page, binder page, row and column.
func Locate(position int, size Size) (Slot, error) {
	if !size.Valid() {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidSize, size)
	}
	if position < 0 {
		return Slot{}, fmt.Errorf("grid: negative position %d", position)
	}
	perPage := CardsPerPage(size)
	cardPage := position / perPage
	offset := position % perPage
	return Slot{
		CardPage:   cardPage,
		BinderPage: CardPageToBinderPage(cardPage),
		Row:        offset / size.Cols(),
		Col:        offset % size.Cols(),
	}, nil
}

// RequiredPageCount returns the binder page count needed for maxPosition under
// size, clamped to [minPages, maxPages].
func RequiredPageCount(maxPosition int, size Size, minPages, maxPages int) int {
	pages := RequiredBinderPages(RequiredCardPages(maxPosition, CardsPerPage(size)))
	return Clamp(pages, minPages, maxPages)
}

// CapacityForBinderPages returns the number of slots available in binderPages.
func CapacityForBinderPages(binderPages, cardsPerPage int) int {
	if binderPages <= 0 {
		return 0
	}
	cardPages := 1 + 2*(binderPages-1)
	return cardPages * cardsPerPage
}

// Clamp bounds value to [lower, upper]; a non-positive upper means unbounded.
func Clamp(value, lower, upper int) int {
	if value < lower {
		value = lower
	}
	if upper > 0 && value > upper {
		value = upper
	}
	return value
}

func ceilDiv(numerator, denominator int) int {
	return (numerator + denominator - 1) / denominator
}
