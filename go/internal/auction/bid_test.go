package auction

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

func TestPlaceBidScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.moveTo(t, 3)

	h.mustBid(t, 0, "100100")
	h.mustBid(t, 1, "200100")

	before := h.plot(t, 3)
	_, err := h.engine.PlaceBid(ctx, h.teams[0].ID, dec("150100"))
	wantCode(t, err, CodeBidTooLow)
	if after := h.plot(t, 3); !after.CurrentBid.Equal(*before.CurrentBid) || *after.WinnerTeamID != h.teams[1].ID {
		t.Fatalf("rejected bid changed plot: %+v", after)
	}

	if _, err := h.engine.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	b := h.team(t, 1)
	if !b.Spent.Equal(dec("200100")) || b.PlotsWon != 1 {
		t.Fatalf("team B spent=%s won=%d, want 200100 and 1", b.Spent, b.PlotsWon)
	}
	if a := h.team(t, 0); !a.Spent.IsZero() || a.PlotsWon != 0 {
		t.Fatalf("team A spent=%s won=%d, want nothing", a.Spent, a.PlotsWon)
	}
	if p := h.plot(t, 3); p.Status != models.PlotStatusSold {
		t.Fatalf("plot 3 status = %s, want SOLD", p.Status)
	}
}

func TestPlaceBidPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		team   int
		amount string
		want   Code
	}{
		{
			name:   "not started",
			setup:  func(t *testing.T, h *harness) {},
			amount: "1000",
			want:   CodeAuctionNotRunning,
		},
		{
			name: "paused",
			setup: func(t *testing.T, h *harness) {
				h.mustStart(t)
				if _, err := h.engine.Pause(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			amount: "1000",
			want:   CodeAuctionNotRunning,
		},
		{
			name: "banned team",
			setup: func(t *testing.T, h *harness) {
				h.mustStart(t)
				if _, err := h.engine.BanTeam(context.Background(), h.teams[0].ID, true); err != nil {
					t.Fatal(err)
				}
			},
			amount: "1000",
			want:   CodeTeamBanned,
		},
		{
			name:   "below floor",
			setup:  func(t *testing.T, h *harness) { h.mustStart(t) },
			amount: "99",
			want:   CodeBidTooLow,
		},
		{
			name: "already highest",
			setup: func(t *testing.T, h *harness) {
				h.mustStart(t)
				h.mustBid(t, 0, "1000")
			},
			amount: "500000",
			want:   CodeAlreadyHighest,
		},
		{
			name:   "over budget",
			setup:  func(t *testing.T, h *harness) { h.mustStart(t) },
			amount: "1000000.01",
			want:   CodeInsufficientBudget,
		},
		{
			name: "plot not active",
			setup: func(t *testing.T, h *harness) {
				h.mustStart(t)
				// Running out of plots pauses, so restart on the sold last plot.
				for i := 0; i < 6; i++ {
					h.mustBid(t, i%2, "1000")
					if _, err := h.engine.Next(context.Background()); err != nil {
						t.Fatal(err)
					}
				}
				if _, err := h.engine.Start(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			amount: "500000",
			want:   CodePlotNotActive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(t, h)
			h.pub.reset()
			_, err := h.engine.PlaceBid(context.Background(), h.teams[tt.team].ID, dec(tt.amount))
			wantCode(t, err, tt.want)
			if got := h.pub.types(); len(got) != 0 {
				t.Fatalf("rejection published %v", got)
			}
		})
	}
}

func TestPlaceBidUnknownTeam(t *testing.T) {
	h := newHarness(t, nil)
	h.mustStart(t)
	_, err := h.engine.PlaceBid(context.Background(), uuid.New(), dec("1000"))
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Code() != "TEAM_NOT_FOUND" {
		t.Fatalf("error = %v, want TEAM_NOT_FOUND", err)
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatal("NotFoundError does not match ledger.ErrNotFound")
	}
}

func TestAcceptedBidsStrictlyIncrease(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)

	amounts := []string{"100", "150000", "250000", "200000", "350000", "450000", "449999"}
	for i, a := range amounts {
		team := i % 3
		_, _ = h.engine.PlaceBid(ctx, h.teams[team].ID, dec(a))
	}

	bids, err := h.engine.Bids(ctx, 1)
	if err != nil {
		t.Fatalf("Bids() error = %v", err)
	}
	if len(bids) < 2 {
		t.Fatalf("accepted %d bids, want several", len(bids))
	}
	for i := 1; i < len(bids); i++ {
		if !bids[i].Amount.GreaterThan(bids[i-1].Amount) {
			t.Fatalf("bid %d amount %s does not exceed %s", i, bids[i].Amount, bids[i-1].Amount)
		}
	}
	last := bids[len(bids)-1]
	if p := h.plot(t, 1); *p.WinnerTeamID != last.TeamID || !p.CurrentBid.Equal(last.Amount) {
		t.Fatalf("plot holder %v at %s, want last bid %v at %s", p.WinnerTeamID, p.CurrentBid, last.TeamID, last.Amount)
	}
	if last.TeamName == "" {
		t.Fatal("bid view has no team name")
	}
}

func TestBidDuringCountdownResumesRunning(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.mustBid(t, 0, "1000")
	if _, err := h.engine.Sell(ctx); err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	h.pub.reset()

	res, err := h.engine.PlaceBid(ctx, h.teams[1].ID, dec("101000"))
	if err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if res.Status != models.AuctionStatusRunning {
		t.Fatalf("status = %s, want RUNNING", res.Status)
	}
	want := []events.EventType{events.EventTypeBidAccepted, events.EventTypePlotChanged, events.EventTypeStateChanged}
	got := h.pub.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
