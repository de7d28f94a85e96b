package auction

import (
	"context"
	"testing"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

func TestStartActivatesCurrentPlot(t *testing.T) {
	h := newHarness(t, nil)
	st, err := h.engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.Status != models.AuctionStatusRunning {
		t.Fatalf("status = %s, want RUNNING", st.Status)
	}
	if p := h.plot(t, 1); p.Status != models.PlotStatusActive {
		t.Fatalf("plot 1 status = %s, want ACTIVE", p.Status)
	}

	_, err = h.engine.Start(context.Background())
	wantCode(t, err, CodeWrongPhase)
}

func TestStartWithMissingPlot(t *testing.T) {
	h := newHarness(t, func(d *ledger.Dataset) {
		d.State.CurrentPlotNumber = 42
	})
	st, err := h.engine.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.Status != models.AuctionStatusRunning {
		t.Fatalf("status = %s, want RUNNING", st.Status)
	}
}

func TestSellOnlyWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Sell(context.Background())
	wantCode(t, err, CodeWrongPhase)

	h.mustStart(t)
	st, err := h.engine.Sell(context.Background())
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if st.Status != models.AuctionStatusSelling {
		t.Fatalf("status = %s, want SELLING", st.Status)
	}
	_, err = h.engine.Sell(context.Background())
	wantCode(t, err, CodeWrongPhase)
}

func TestNextSkipsHeldPlots(t *testing.T) {
	h := newHarness(t, func(d *ledger.Dataset) {
		// Plots 2 and 3 were won earlier.
		for _, n := range []int{2, 3} {
			p := &d.Plots[n-1]
			p.SetBid(d.Teams[3].ID, dec("100"))
			p.Status = models.PlotStatusSold
		}
	})
	ctx := context.Background()
	h.mustStart(t)

	st, err := h.engine.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if st.CurrentPlotNumber != 4 {
		t.Fatalf("current plot = %d, want 4", st.CurrentPlotNumber)
	}
	if p := h.plot(t, 1); p.Status != models.PlotStatusUnsold {
		t.Fatalf("plot 1 status = %s, want UNSOLD", p.Status)
	}
	if p := h.plot(t, 4); p.Status != models.PlotStatusActive {
		t.Fatalf("plot 4 status = %s, want ACTIVE", p.Status)
	}
}

func TestNextBeforeStartOpensCurrentPlot(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(d *ledger.Dataset)
		wantPlot int
	}{
		{"first plot open", nil, 1},
		{"first plot already won", func(d *ledger.Dataset) {
			p := &d.Plots[0]
			p.SetBid(d.Teams[3].ID, dec("100"))
			p.Status = models.PlotStatusSold
		}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mutate)
			ctx := context.Background()

			st, err := h.engine.Next(ctx)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if st.Status != models.AuctionStatusRunning || st.CurrentPlotNumber != tt.wantPlot {
				t.Fatalf("state = %s on plot %d, want RUNNING on plot %d", st.Status, st.CurrentPlotNumber, tt.wantPlot)
			}
			if p := h.plot(t, tt.wantPlot); p.Status != models.PlotStatusActive {
				t.Fatalf("plot %d status = %s, want ACTIVE", tt.wantPlot, p.Status)
			}

			st, err = h.engine.Next(ctx)
			if err != nil {
				t.Fatalf("second Next() error = %v", err)
			}
			if st.CurrentPlotNumber != tt.wantPlot+1 {
				t.Fatalf("current plot = %d, want %d", st.CurrentPlotNumber, tt.wantPlot+1)
			}
			if p := h.plot(t, tt.wantPlot); p.Status != models.PlotStatusUnsold {
				t.Fatalf("plot %d status = %s, want UNSOLD", tt.wantPlot, p.Status)
			}
		})
	}
}

func TestNextPausesWhenExhausted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.moveTo(t, 6)

	st, err := h.engine.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if st.Status != models.AuctionStatusPaused {
		t.Fatalf("status = %s, want PAUSED", st.Status)
	}
	if st.CurrentPlotNumber != 6 {
		t.Fatalf("current plot = %d, want 6", st.CurrentPlotNumber)
	}
}

func TestPrevRefundsSoldPlot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.mustBid(t, 2, "5000")
	h.moveTo(t, 2)
	h.mustBid(t, 1, "700")

	if got := h.team(t, 2); !got.Spent.Equal(dec("5000")) || got.PlotsWon != 1 {
		t.Fatalf("before prev: spent=%s won=%d", got.Spent, got.PlotsWon)
	}

	st, err := h.engine.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev() error = %v", err)
	}
	if st.CurrentPlotNumber != 1 || st.Status != models.AuctionStatusRunning {
		t.Fatalf("state = plot %d %s, want plot 1 RUNNING", st.CurrentPlotNumber, st.Status)
	}
	if got := h.team(t, 2); !got.Spent.IsZero() || got.PlotsWon != 0 {
		t.Fatalf("after prev: spent=%s won=%d, want refund", got.Spent, got.PlotsWon)
	}
	p1 := h.plot(t, 1)
	if p1.Status != models.PlotStatusActive || !p1.HeldBy(h.teams[2].ID) {
		t.Fatalf("plot 1 = %s held by %v, want ACTIVE held by team C", p1.Status, p1.WinnerTeamID)
	}
	p2 := h.plot(t, 2)
	if p2.Status != models.PlotStatusPending || p2.Held() {
		t.Fatalf("plot 2 = %s held=%v, want PENDING and unheld", p2.Status, p2.Held())
	}

	// Settling again charges exactly once.
	if _, err := h.engine.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got := h.team(t, 2); !got.Spent.Equal(dec("5000")) || got.PlotsWon != 1 {
		t.Fatalf("after re-settle: spent=%s won=%d", got.Spent, got.PlotsWon)
	}

	if _, err := h.engine.Prev(ctx); err != nil {
		t.Fatalf("Prev() error = %v", err)
	}
	_, err = h.engine.Prev(ctx)
	wantCode(t, err, CodeAtFirstPlot)
}

func TestEndGameCompletes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	st, err := h.engine.EndGame(ctx)
	if err != nil {
		t.Fatalf("EndGame() error = %v", err)
	}
	if st.Status != models.AuctionStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", st.Status)
	}
	_, err = h.engine.Next(ctx)
	wantCode(t, err, CodeWrongPhase)
	_, err = h.engine.PlaceBid(ctx, h.teams[0].ID, dec("1000"))
	wantCode(t, err, CodeAuctionNotRunning)
}

func TestSetRound(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.SetRound(ctx, 0)
	wantCode(t, err, CodeInvalidArgument)

	st, err := h.engine.SetRound(ctx, models.ResaleRound)
	if err != nil {
		t.Fatalf("SetRound(4) error = %v", err)
	}
	if !st.InResaleSell() || !st.RebidPhaseActive {
		t.Fatalf("round 4 did not open the listing window: %+v", st)
	}

	st, err = h.engine.SetRound(ctx, 2)
	if err != nil {
		t.Fatalf("SetRound(2) error = %v", err)
	}
	if st.RebidPhaseActive || st.Round4Phase != models.Round4PhaseNone || len(st.Round4BidQueue) != 0 {
		t.Fatalf("leaving round 4 kept resale fields: %+v", st)
	}
}

func TestPushQuestionResetsDeltas(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.AdjustPlots(ctx, []int{1}, dec("10")); err != nil {
		t.Fatalf("AdjustPlots() error = %v", err)
	}
	if len(h.state(t).PolicyDeltas) != 1 {
		t.Fatal("adjustment did not record a policy delta")
	}

	_, err := h.engine.PushQuestion(ctx, "   ")
	wantCode(t, err, CodeInvalidArgument)

	st, err := h.engine.PushQuestion(ctx, "Build a rail line?")
	if err != nil {
		t.Fatalf("PushQuestion() error = %v", err)
	}
	if st.CurrentQuestion != "Build a rail line?" || len(st.PolicyDeltas) != 0 {
		t.Fatalf("state = %+v, want new question and no deltas", st)
	}
}

func TestResetKeepsTeamsAndBans(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.mustBid(t, 0, "1000")
	h.moveTo(t, 2)
	if _, err := h.engine.BanTeam(ctx, h.teams[3].ID, true); err != nil {
		t.Fatalf("BanTeam() error = %v", err)
	}
	before := h.state(t)
	h.pub.reset()

	st, err := h.engine.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if st.Status != models.AuctionStatusNotStarted || st.CurrentPlotNumber != 1 || st.CurrentRound != 1 {
		t.Fatalf("state after reset = %+v", st)
	}
	if st.Version <= before.Version {
		t.Fatalf("version = %d, want > %d", st.Version, before.Version)
	}
	if got := h.team(t, 0); !got.Spent.IsZero() || got.PlotsWon != 0 {
		t.Fatalf("team A after reset: spent=%s won=%d", got.Spent, got.PlotsWon)
	}
	if got := h.team(t, 3); !got.Banned {
		t.Fatal("reset cleared a ban")
	}
	if p := h.plot(t, 1); p.Status != models.PlotStatusPending || p.Held() {
		t.Fatalf("plot 1 after reset = %+v", p)
	}
	if p := h.plot(t, 1); !p.TotalPrice.Equal(dec("100")) {
		t.Fatalf("plot 1 price after reset = %s, want 100", p.TotalPrice)
	}
	bids, err := h.engine.Bids(ctx, 1)
	if err != nil || len(bids) != 0 {
		t.Fatalf("Bids() = %v, %v, want none", bids, err)
	}
	if got := h.pub.types(); len(got) == 0 || got[0] != events.EventTypeAuctionReset {
		t.Fatalf("events = %v, want auction-reset first", got)
	}
}

func TestBanTeam(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.pub.reset()

	team, err := h.engine.BanTeam(ctx, h.teams[0].ID, true)
	if err != nil {
		t.Fatalf("BanTeam() error = %v", err)
	}
	if !team.Banned {
		t.Fatal("team not banned")
	}
	if got := h.pub.types(); len(got) != 2 || got[0] != events.EventTypeBanned {
		t.Fatalf("events = %v, want banned then team-ledger-changed", got)
	}
	_, err = h.engine.Authenticate(ctx, h.teams[0].ID, h.teams[0].Passcode)
	wantCode(t, err, CodeTeamBanned)

	if _, err := h.engine.BanTeam(ctx, h.teams[0].ID, false); err != nil {
		t.Fatalf("unban error = %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, h.teams[0].ID, h.teams[0].Passcode); err != nil {
		t.Fatalf("Authenticate() after unban error = %v", err)
	}
}
