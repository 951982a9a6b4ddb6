package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timing constants of the procedure. Fast variants apply in sandbox
// (fast-forward) runs and collapse the wall-clock waits between stages.
const (
	PauseDuration     = 10 * time.Minute
	RoundDuration     = 5 * time.Minute
	FastPauseDuration = 5 * time.Second
	FastRoundDuration = 30 * time.Second

	// DeadlineHour is the default wall-clock hour past which no main round
	// may be scheduled.
	DeadlineHour = 18

	// SandboxAuctionDuration bounds the whole auction in quick sandbox mode.
	SandboxAuctionDuration = 10 * time.Minute
)

// MultilingualFields are document fields carried in every configured language.
var MultilingualFields = []string{"title", "description"}

// AdditionalLanguages are the language suffixes next to the default one.
var AdditionalLanguages = []string{"en", "ru"}

// TimeOfDay is a wall-clock time used for the daily deadline.
type TimeOfDay struct {
	Hour   int `koanf:"hour" json:"hour"`
	Minute int `koanf:"minute" json:"minute"`
	Second int `koanf:"second" json:"second"`
}

// StageDurations returns the pause and round durations for the given mode.
func StageDurations(fastForward bool) (pause, round time.Duration) {
	if fastForward {
		return FastPauseDuration, FastRoundDuration
	}
	return PauseDuration, RoundDuration
}

// NextBidFloor computes the minimal acceptable bid over the given value,
// banker's-rounded to two decimal places.
func NextBidFloor(value, step decimal.Decimal) decimal.Decimal {
	return value.Add(step).RoundBank(2)
}

// PrepareAuctionStages plans the next pause/main-round pair starting at
// stageStart. The main round is omitted (nil) when the pause already reaches
// the deadline, signalling that no further round fits. A zero deadline means
// no deadline is enforced.
func PrepareAuctionStages(stageStart time.Time, value, step decimal.Decimal, deadline time.Time, fastForward bool) (Stage, *Stage) {
	pauseDur, roundDur := StageDurations(fastForward)

	pause := Stage{Kind: StagePause, Start: stageStart}

	mainStart := stageStart.Add(pauseDur)
	if !deadline.IsZero() && !mainStart.Before(deadline) {
		return pause, nil
	}

	mainRound := &Stage{
		Kind:       StageMainRound,
		Start:      mainStart,
		PlannedEnd: RoundEndingTime(mainStart, roundDur, deadline),
		Amount:     NextBidFloor(value, step),
	}
	return pause, mainRound
}

// PrepareEndStage builds the terminal END stage.
func PrepareEndStage(start time.Time) Stage {
	return Stage{Kind: StageEnd, Start: start}
}

// RoundEndingTime caps start+duration at the deadline. A zero deadline
// means no cap.
func RoundEndingTime(start time.Time, duration time.Duration, deadline time.Time) time.Time {
	end := start.Add(duration)
	if deadline.IsZero() || end.Before(deadline) {
		return end
	}
	return deadline
}

// SetSpecificTime returns the same calendar day at the given clock time,
// preserving the location. Minute and second overflow carries upward, the
// hour wraps modulo 24.
func SetSpecificTime(date time.Time, hour, minute, second int) time.Time {
	minute += second / 60
	hour += minute / 60
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		hour%24, minute%60, second%60, 0,
		date.Location(),
	)
}

// AbsoluteDeadline computes the daily deadline wall for the start date.
func AbsoluteDeadline(startDate time.Time, at TimeOfDay) time.Time {
	return SetSpecificTime(startDate, at.Hour, at.Minute, at.Second)
}

// RelativeDeadline bounds the auction to a fixed duration after its start.
func RelativeDeadline(startDate time.Time, duration time.Duration) time.Time {
	return startDate.Add(duration)
}
