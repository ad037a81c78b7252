// Package commands implements the deterministic bang commands handled
// before any gating or generation: dice rolls, version, ping, and market
// price queries.
package commands

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxDiceCount and MaxDiceSides bound a roll request.
	MaxDiceCount = 100
	MaxDiceSides = 1000

	// OverLimitMessage is the rejection for oversized rolls.
	OverLimitMessage = "That's too many dice or sides for me! (limit: 100 dice, 1000 sides)"
)

var (
	diceRe  = regexp.MustCompile(`(?i)^!(\d+)d(\d+)$`)
	priceRe = regexp.MustCompile(`^!price\s+"([^"]+)"\s+in\s+(\S.*)$`)
)

// DiceRoll is a parsed dice command.
type DiceRoll struct {
	Count int
	Sides int
}

// ParseDice parses a `!<count>d<sides>` command. The second return is false
// when input is not a dice command at all.
func ParseDice(input string) (DiceRoll, bool) {
	m := diceRe.FindStringSubmatch(input)
	if m == nil {
		return DiceRoll{}, false
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return DiceRoll{}, false
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return DiceRoll{}, false
	}
	return DiceRoll{Count: count, Sides: sides}, true
}

// OverLimit reports whether the roll falls outside the allowed bounds.
// Zero dice or zero sides are rejected too; Roll requires at least one of each.
func (d DiceRoll) OverLimit() bool {
	return d.Count < 1 || d.Count > MaxDiceCount || d.Sides < 1 || d.Sides > MaxDiceSides
}

// Roll produces the individual die results.
func (d DiceRoll) Roll() []int {
	rolls := make([]int, d.Count)
	for i := range rolls {
		rolls[i] = rand.IntN(d.Sides) + 1
	}
	return rolls
}

// FormatRoll renders die results the way the bot announces them.
func FormatRoll(d DiceRoll, rolls []int) string {
	total := 0
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		total += r
		parts[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("🎲 %dd%d result: [%s] → total: %d", d.Count, d.Sides, strings.Join(parts, ", "), total)
}

// PriceQuery is a parsed `!price "<item>" in <city>` command.
type PriceQuery struct {
	Item string
	City string
}

// ParsePrice parses a price query command.
func ParsePrice(input string) (PriceQuery, bool) {
	m := priceRe.FindStringSubmatch(input)
	if m == nil {
		return PriceQuery{}, false
	}
	return PriceQuery{Item: m[1], City: strings.TrimSpace(m[2])}, true
}

// VersionReply renders the !ver response.
func VersionReply(version string) string {
	return fmt.Sprintf("I'm currently running version %s!", version)
}

// PingReply is the !ping response.
const PingReply = "Pong!"
