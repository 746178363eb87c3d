// README: Order state machine tests (flow, money safety, dispute window).
package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"bazar/internal/modules/ledger"
	"bazar/internal/modules/reservation"
	"bazar/internal/payment"
	"bazar/internal/types"
)

// TestCanTransition verifies the transition table without any store.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusDelivered, StatusReleased, true},
		{StatusDelivered, StatusDisputed, true},
		{StatusDisputed, StatusRefunded, true},
		{StatusDisputed, StatusReleased, true},
		// cancel only from pending
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, false},
		{StatusOutForDelivery, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusReleased, StatusDisputed, false},
		{StatusRefunded, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		// skipping states
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusDelivered, false},
		{StatusPending, StatusOutForDelivery, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// stubRoutes stands in for the routing directory. A dispatched route with a
// nil roster accepts any order; a non-nil roster accepts only its members.
type stubRoutes struct {
	dispatched map[types.ID]bool
	rosters    map[types.ID][]types.ID
}

func (s *stubRoutes) IsOrderOnDispatchedRoute(ctx context.Context, orderID, routeID types.ID) (bool, error) {
	if !s.dispatched[routeID] {
		return false, nil
	}
	roster, ok := s.rosters[routeID]
	if !ok {
		return true, nil
	}
	for _, id := range roster {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

type testEnv struct {
	svc    *Service
	wallet *ledger.Service
	stock  *reservation.Service
	store  *MemStore
	routes *stubRoutes
}

func newTestEnv(t *testing.T, disputeWindow time.Duration) *testEnv {
	t.Helper()
	ctx := context.Background()

	wallet := ledger.NewService(ledger.NewMemStore(), &payment.FakeProvider{})
	stock := reservation.NewService(reservation.NewMemStore())
	if err := stock.AddProduct(ctx, "prod1"); err != nil {
		t.Fatalf("add product: %v", err)
	}
	routes := &stubRoutes{dispatched: map[types.ID]bool{"route1": true}}
	store := NewMemStore()
	svc := NewService(Deps{
		Store:         store,
		Wallet:        wallet,
		Stock:         stock,
		Routes:        routes,
		DisputeWindow: disputeWindow,
	})
	return &testEnv{svc: svc, wallet: wallet, stock: stock, store: store, routes: routes}
}

func (e *testEnv) fund(t *testing.T, userID types.ID, amount int64) {
	t.Helper()
	if err := e.wallet.Deposit(context.Background(), userID, types.Money{Amount: amount, Currency: "TWD"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (e *testEnv) createOrder(t *testing.T) types.ID {
	t.Helper()
	id, err := e.svc.Create(context.Background(), CreateCommand{
		BuyerID:       "buyer",
		SellerID:      "seller",
		ProductID:     "prod1",
		Amount:        types.Money{Amount: 500, Currency: "TWD"},
		PaymentMethod: PayWallet,
		Pickup:        types.Point{Lat: 25.033, Lng: 121.565},
		Dropoff:       types.Point{Lat: 25.0478, Lng: 121.5318},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return id
}

// deliverOrder walks an order to `delivered` through the normal flow.
func (e *testEnv) deliverOrder(t *testing.T, orderID types.ID) {
	t.Helper()
	ctx := context.Background()
	if err := e.svc.Confirm(ctx, ConfirmCommand{OrderID: orderID, ActorID: "seller"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := e.svc.MarkOutForDelivery(ctx, OutForDeliveryCommand{OrderID: orderID, RouteID: "route1"}); err != nil {
		t.Fatalf("out for delivery: %v", err)
	}
	if err := e.svc.ConfirmDelivery(ctx, ConfirmDeliveryCommand{OrderID: orderID, ActorID: "buyer"}); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
}

func assertStatus(t *testing.T, svc *Service, orderID types.ID, want Status) {
	t.Helper()
	o, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("expected status %s, got %s", want, o.Status)
	}
}

func TestCreateReservesProductAndHoldsFunds(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	assertStatus(t, env.svc, orderID, StatusPending)

	available, _ := env.wallet.AvailableBalance(ctx, "buyer")
	if available != 0 {
		t.Fatalf("expected available 0 after hold, got %d", available)
	}
	r, _ := env.stock.Get(ctx, "prod1")
	if r.Status != reservation.StatusReserved {
		t.Fatalf("expected product reserved, got %s", r.Status)
	}

	// The product now refuses a second order.
	_, err := env.svc.Create(ctx, CreateCommand{
		BuyerID: "buyer2", SellerID: "seller", ProductID: "prod1",
		Amount: types.Money{Amount: 500, Currency: "TWD"}, PaymentMethod: PayCash,
	})
	if !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}
}

func TestCreateInsufficientFundsReleasesReservation(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 100)

	_, err := env.svc.Create(ctx, CreateCommand{
		BuyerID: "buyer", SellerID: "seller", ProductID: "prod1",
		Amount: types.Money{Amount: 500, Currency: "TWD"}, PaymentMethod: PayWallet,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// The listing must stay sellable.
	r, _ := env.stock.Get(ctx, "prod1")
	if r.Status != reservation.StatusAvailable {
		t.Fatalf("expected product available after failed hold, got %s", r.Status)
	}
}

func TestHappyPathWalletFlow(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)
	assertStatus(t, env.svc, orderID, StatusDelivered)

	o, _ := env.svc.Get(ctx, orderID)
	if o.DeliveredAt == nil || o.DisputeDeadline == nil {
		t.Fatal("expected delivered_at and dispute_deadline to be set")
	}
	if got := o.DisputeDeadline.Sub(*o.DeliveredAt); got < 59*time.Minute || got > 61*time.Minute {
		t.Fatalf("dispute deadline not ~1h after delivery: %v", got)
	}
	r, _ := env.stock.Get(ctx, "prod1")
	if r.Status != reservation.StatusSold {
		t.Fatalf("expected product sold, got %s", r.Status)
	}
}

func TestConfirmDeliveryBuyerOnly(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	if err := env.svc.Confirm(ctx, ConfirmCommand{OrderID: orderID, ActorID: "seller"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := env.svc.MarkOutForDelivery(ctx, OutForDeliveryCommand{OrderID: orderID, RouteID: "route1"}); err != nil {
		t.Fatalf("out for delivery: %v", err)
	}
	err := env.svc.ConfirmDelivery(ctx, ConfirmDeliveryCommand{OrderID: orderID, ActorID: "seller"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMarkOutForDeliveryRequiresDispatchedRoute(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	if err := env.svc.Confirm(ctx, ConfirmCommand{OrderID: orderID, ActorID: "seller"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	err := env.svc.MarkOutForDelivery(ctx, OutForDeliveryCommand{OrderID: orderID, RouteID: "route_unknown"})
	if !errors.Is(err, ErrNotRouted) {
		t.Fatalf("expected ErrNotRouted, got %v", err)
	}
}

// Naming a dispatched route the order is not actually a stop on must not
// move the order out for delivery.
func TestMarkOutForDeliveryRequiresRouteMembership(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	if err := env.svc.Confirm(ctx, ConfirmCommand{OrderID: orderID, ActorID: "seller"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	env.routes.rosters = map[types.ID][]types.ID{"route1": {"someone-elses-order"}}

	err := env.svc.MarkOutForDelivery(ctx, OutForDeliveryCommand{OrderID: orderID, RouteID: "route1"})
	if !errors.Is(err, ErrNotRouted) {
		t.Fatalf("expected ErrNotRouted for order off the route, got %v", err)
	}
	assertStatus(t, env.svc, orderID, StatusConfirmed)
}

func TestCancelRefundsHoldAndReservation(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	available, _ := env.wallet.AvailableBalance(ctx, "buyer")
	if available != 0 {
		t.Fatalf("expected available 0, got %d", available)
	}

	if err := env.svc.Cancel(ctx, CancelCommand{OrderID: orderID, ActorID: "buyer", Reason: "changed my mind"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertStatus(t, env.svc, orderID, StatusCancelled)

	available, _ = env.wallet.AvailableBalance(ctx, "buyer")
	if available != 500 {
		t.Fatalf("expected available 500 after cancel, got %d", available)
	}
	r, _ := env.stock.Get(ctx, "prod1")
	if r.Status != reservation.StatusAvailable {
		t.Fatalf("expected product available after cancel, got %s", r.Status)
	}
}

func TestCancelBlockedAfterConfirm(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	if err := env.svc.Confirm(ctx, ConfirmCommand{OrderID: orderID, ActorID: "seller"}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	err := env.svc.Cancel(ctx, CancelCommand{OrderID: orderID, ActorID: "buyer"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAutoReleaseBeforeDeadlineIsNoop(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)

	if err := env.svc.AutoRelease(ctx, orderID); err != nil {
		t.Fatalf("auto release: %v", err)
	}
	assertStatus(t, env.svc, orderID, StatusDelivered)
	sellerBal, _ := env.wallet.Balance(ctx, "seller")
	if sellerBal != 0 {
		t.Fatalf("funds released before deadline: seller balance %d", sellerBal)
	}
}

func TestAutoReleaseAfterDeadlineExactlyOnce(t *testing.T) {
	// Negative window puts the deadline in the past the moment delivery is
	// confirmed, so the sweep is immediately due.
	env := newTestEnv(t, -time.Second)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)

	// Running the sweep twice must release exactly once.
	env.svc.SweepOnce(ctx)
	env.svc.SweepOnce(ctx)

	assertStatus(t, env.svc, orderID, StatusReleased)
	sellerBal, _ := env.wallet.Balance(ctx, "seller")
	if sellerBal != 500 {
		t.Fatalf("expected seller balance 500 after release, got %d", sellerBal)
	}
	buyerBal, _ := env.wallet.Balance(ctx, "buyer")
	if buyerBal != 0 {
		t.Fatalf("expected buyer balance 0 after release, got %d", buyerBal)
	}
}

func TestRaiseDisputeAfterDeadlineFails(t *testing.T) {
	env := newTestEnv(t, -time.Second)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)

	// The deadline has passed but the sweep has not run: still expired.
	err := env.svc.RaiseDispute(ctx, DisputeCommand{OrderID: orderID, ActorID: "buyer", Reason: "damaged"})
	if !errors.Is(err, ErrDisputeWindowExpired) {
		t.Fatalf("expected ErrDisputeWindowExpired, got %v", err)
	}
}

func TestDisputeBlocksAutoRelease(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)

	if err := env.svc.RaiseDispute(ctx, DisputeCommand{OrderID: orderID, ActorID: "buyer", Reason: "damaged"}); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	assertStatus(t, env.svc, orderID, StatusDisputed)

	// A later sweep finds nothing to do and releases nothing.
	if err := env.svc.AutoRelease(ctx, orderID); err != nil {
		t.Fatalf("auto release on disputed order: %v", err)
	}
	assertStatus(t, env.svc, orderID, StatusDisputed)
	sellerBal, _ := env.wallet.Balance(ctx, "seller")
	if sellerBal != 0 {
		t.Fatalf("disputed order must keep funds held, seller balance %d", sellerBal)
	}
}

func TestCashOrderTakesNoHold(t *testing.T) {
	env := newTestEnv(t, -time.Second)
	ctx := context.Background()

	orderID, err := env.svc.Create(ctx, CreateCommand{
		BuyerID: "buyer", SellerID: "seller", ProductID: "prod1",
		Amount: types.Money{Amount: 500, Currency: "TWD"}, PaymentMethod: PayCash,
	})
	if err != nil {
		t.Fatalf("create cash order: %v", err)
	}
	env.deliverOrder(t, orderID)
	env.svc.SweepOnce(ctx)

	assertStatus(t, env.svc, orderID, StatusReleased)
	// No wallet movement for cash.
	sellerBal, _ := env.wallet.Balance(ctx, "seller")
	buyerBal, _ := env.wallet.Balance(ctx, "buyer")
	if sellerBal != 0 || buyerBal != 0 {
		t.Fatalf("cash order moved wallet funds: seller %d buyer %d", sellerBal, buyerBal)
	}
}

func TestEventLogRecordsTransitions(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.fund(t, "buyer", 500)

	orderID := env.createOrder(t)
	env.deliverOrder(t, orderID)

	events := env.store.Events()
	var got []Status
	for _, e := range events {
		if e.OrderID == orderID {
			got = append(got, e.ToStatus)
		}
	}
	want := []Status{StatusPending, StatusConfirmed, StatusOutForDelivery, StatusDelivered}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
