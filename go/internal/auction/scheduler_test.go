package auction

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
)

// waitFor polls cond until it holds or the deadline passes. The countdown
// fires on its own goroutine once the fake clock is advanced.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSellCountdownAutoAdvances(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	h.mustBid(t, 1, "2500")
	if _, err := h.engine.Sell(ctx); err != nil {
		t.Fatalf("Sell() error = %v", err)
	}

	blockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("countdown timer never armed: %v", err)
	}
	h.clock.Advance(h.engine.Policy().SellCountdown)

	waitFor(t, func() bool { return h.state(t).CurrentPlotNumber == 2 })

	st := h.state(t)
	if st.Status != models.AuctionStatusRunning {
		t.Fatalf("status = %s, want RUNNING", st.Status)
	}
	if got := h.team(t, 1); !got.Spent.Equal(dec("2500")) || got.PlotsWon != 1 {
		t.Fatalf("winner spent=%s won=%d, want 2500 and 1", got.Spent, got.PlotsWon)
	}
	if p := h.plot(t, 1); p.Status != models.PlotStatusSold {
		t.Fatalf("plot 1 status = %s, want SOLD", p.Status)
	}
}

func TestStaleCountdownIsIgnored(t *testing.T) {
	tests := []struct {
		name      string
		interrupt func(t *testing.T, h *harness)
	}{
		{
			name: "bid resumes running",
			interrupt: func(t *testing.T, h *harness) {
				h.mustBid(t, 2, "200000")
			},
		},
		{
			name: "pause",
			interrupt: func(t *testing.T, h *harness) {
				if _, err := h.engine.Pause(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "manual next",
			interrupt: func(t *testing.T, h *harness) {
				if _, err := h.engine.Next(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			h.mustStart(t)
			h.mustBid(t, 1, "2500")
			if _, err := h.engine.Sell(ctx); err != nil {
				t.Fatalf("Sell() error = %v", err)
			}
			task := countdown{plotNumber: 1, epoch: h.engine.sellEpoch}

			tt.interrupt(t, h)
			before := h.state(t)
			h.pub.reset()

			if err := h.engine.fireAutoAdvance(ctx, task); err != nil {
				t.Fatalf("fireAutoAdvance() error = %v", err)
			}
			after := h.state(t)
			if after.Version != before.Version || after.CurrentPlotNumber != before.CurrentPlotNumber {
				t.Fatalf("stale countdown changed state: before %+v after %+v", before, after)
			}
			if got := h.pub.types(); len(got) != 0 {
				t.Fatalf("stale countdown published %v", got)
			}
		})
	}
}

func TestResellingSamePlotInvalidatesOldCountdown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.mustStart(t)
	if _, err := h.engine.Sell(ctx); err != nil {
		t.Fatal(err)
	}
	stale := countdown{plotNumber: 1, epoch: h.engine.sellEpoch}
	if _, err := h.engine.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Sell(ctx); err != nil {
		t.Fatal(err)
	}

	// Same plot, still SELLING, but an older countdown.
	if err := h.engine.fireAutoAdvance(ctx, stale); err != nil {
		t.Fatalf("fireAutoAdvance() error = %v", err)
	}
	if st := h.state(t); st.Status != models.AuctionStatusSelling || st.CurrentPlotNumber != 1 {
		t.Fatalf("old countdown advanced the floor: %+v", st)
	}

	current := countdown{plotNumber: 1, epoch: h.engine.sellEpoch}
	if err := h.engine.fireAutoAdvance(ctx, current); err != nil {
		t.Fatalf("fireAutoAdvance() error = %v", err)
	}
	if st := h.state(t); st.CurrentPlotNumber != 2 {
		t.Fatalf("current countdown did not advance: %+v", st)
	}
}

func TestRunRearmsCountdown(t *testing.T) {
	h := newHarness(t, func(d *ledger.Dataset) {
		d.State.Status = models.AuctionStatusSelling
		d.Plots[0].Status = models.PlotStatusActive
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	blockCtx, cancelBlock := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelBlock()
	if err := h.clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("countdown not re-armed: %v", err)
	}
	h.clock.Advance(h.engine.Policy().SellCountdown)
	waitFor(t, func() bool { return h.state(t).CurrentPlotNumber == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
