package tracker

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/custos-labs/everro/internal/models"
	"github.com/custos-labs/everro/pkg/logger"
)

// fakeGateway serves only the read calls the tracker makes; anything else
// panics through the embedded interface.
type fakeGateway struct {
	models.ChainGateway

	native    *big.Int
	nativeErr error
	token     *big.Int
	tokenErr  error
}

func (f *fakeGateway) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if f.nativeErr != nil {
		return nil, f.nativeErr
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeGateway) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return new(big.Int).Set(f.token), nil
}

func (f *fakeGateway) TokenDecimals(ctx context.Context) (uint8, bool) {
	return 6, true
}

func eth(v string) *big.Int {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d.Shift(18).BigInt()
}

func usdt(v string) *big.Int {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d.Shift(6).BigInt()
}

func quote(price string) models.PriceQuote {
	return models.PriceQuote{USD: decimal.RequireFromString(price)}
}

func TestClassifyNativeDelta(t *testing.T) {
	threshold := decimal.NewFromInt(200)

	cases := []struct {
		name     string
		previous *big.Int
		current  *big.Int
		price    models.PriceQuote
		fires    bool
		usd      string
	}{
		{"equal balances never fire", eth("1"), eth("1"), quote("3000"), false, ""},
		{"decrease never fires", eth("2"), eth("1"), quote("3000"), false, ""},
		{"deposit below threshold", eth("0"), eth("0.05"), quote("3000"), false, ""}, // $150
		{"deposit at threshold", eth("0"), eth("0.1"), quote("2000"), true, "200"},
		{"deposit above threshold", eth("1"), eth("2"), quote("3000"), true, "3000"},
		{"zero fallback price suppresses", eth("0"), eth("100"), models.PriceQuote{USD: decimal.Zero, Fallback: true}, false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := ClassifyNativeDelta(tc.previous, tc.current, tc.price, threshold, models.SourcePoll)
			if !tc.fires {
				if ev != nil {
					t.Fatalf("expected no event, got %+v", ev)
				}
				return
			}
			if ev == nil {
				t.Fatal("expected event, got none")
			}
			if ev.Kind != models.AssetNative {
				t.Errorf("expected native kind, got %s", ev.Kind)
			}
			if !ev.USDValue.Equal(decimal.RequireFromString(tc.usd)) {
				t.Errorf("expected usd %s, got %s", tc.usd, ev.USDValue)
			}
		})
	}
}

func TestClassifyTokenDelta(t *testing.T) {
	threshold := decimal.NewFromInt(200)

	// token deposits are priced at a fixed 1:1 USD ratio
	ev := ClassifyTokenDelta(usdt("0"), usdt("250"), 6, threshold, models.SourceWebsocket)
	if ev == nil {
		t.Fatal("expected event for a 250-unit deposit against a 200 threshold")
	}
	if !ev.USDValue.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected usd 250, got %s", ev.USDValue)
	}
	if ev.Amount.Cmp(usdt("250")) != 0 {
		t.Errorf("expected atomic amount %s, got %s", usdt("250"), ev.Amount)
	}

	if ev := ClassifyTokenDelta(usdt("0"), usdt("199.99"), 6, threshold, models.SourcePoll); ev != nil {
		t.Errorf("expected no event below threshold, got %+v", ev)
	}
	if ev := ClassifyTokenDelta(usdt("300"), usdt("250"), 6, threshold, models.SourcePoll); ev != nil {
		t.Errorf("expected no event on decrease, got %+v", ev)
	}
}

func TestObserve_CommitsRegardlessOfOutcome(t *testing.T) {
	gw := &fakeGateway{native: eth("1"), token: usdt("100")}
	trk := New(logger.NewNop(), gw, common.Address{}, decimal.NewFromInt(200))
	trk.Init(context.Background())

	// a sub-threshold native deposit: no event, balance still committed
	gw.native = eth("1.05") // $150 at $3000
	events := trk.Observe(context.Background(), quote("3000"), models.SourcePoll)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if trk.Last().Native.Cmp(eth("1.05")) != 0 {
		t.Errorf("expected last native committed to 1.05, got %s", trk.Last().Native)
	}

	// a decrease: no event, still committed
	gw.native = eth("0.5")
	gw.token = usdt("20")
	events = trk.Observe(context.Background(), quote("3000"), models.SourcePoll)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	last := trk.Last()
	if last.Native.Cmp(eth("0.5")) != 0 || last.Token.Cmp(usdt("20")) != 0 {
		t.Errorf("expected committed snapshot, got native=%s token=%s", last.Native, last.Token)
	}
}

func TestObserve_FiresAboveThreshold(t *testing.T) {
	gw := &fakeGateway{native: eth("0"), token: usdt("0")}
	trk := New(logger.NewNop(), gw, common.Address{}, decimal.NewFromInt(200))
	trk.Init(context.Background())

	gw.token = usdt("250")
	events := trk.Observe(context.Background(), quote("3000"), models.SourcePoll)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Kind != models.AssetToken {
		t.Errorf("expected token event, got %s", events[0].Kind)
	}
}

func TestRefresh_ReadFailuresDegradeToZero(t *testing.T) {
	gw := &fakeGateway{
		native:   eth("1"),
		token:    usdt("50"),
		tokenErr: errors.New("503 service unavailable"),
	}
	trk := New(logger.NewNop(), gw, common.Address{}, decimal.NewFromInt(200))

	snap := trk.Refresh(context.Background())
	if snap.Native.Cmp(eth("1")) != 0 {
		t.Errorf("native read should survive the token failure, got %s", snap.Native)
	}
	if snap.Token.Sign() != 0 {
		t.Errorf("failed token read should degrade to zero, got %s", snap.Token)
	}
}
