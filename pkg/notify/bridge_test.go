package notify

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/shopease-worker/pkg/clients"
	"github.com/Sternrassler/shopease-worker/pkg/event"
)

func newBridge(t *testing.T) (*Bridge, *Tray, *clients.Registry) {
	t.Helper()
	base, err := url.Parse("https://shop.example")
	require.NoError(t, err)

	tray := NewTray()
	windows := clients.NewRegistry(base, zerolog.Nop())
	return NewBridge(tray, windows, zerolog.Nop()), tray, windows
}

func settle(t *testing.T, ev *event.Event) error {
	t.Helper()
	ev.Settle()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ev.Wait(ctx)
}

func TestTray_ReplacesByTag(t *testing.T) {
	tray := NewTray()

	first, err := tray.Show(Descriptor{Title: "one", Tag: "order"})
	require.NoError(t, err)
	_, err = tray.Show(Descriptor{Title: "untagged"})
	require.NoError(t, err)
	second, err := tray.Show(Descriptor{Title: "two", Tag: "order"})
	require.NoError(t, err)

	items := tray.List()
	require.Len(t, items, 2)
	assert.Equal(t, "untagged", items[0].Descriptor.Title)
	assert.Equal(t, "two", items[1].Descriptor.Title)

	_, ok := tray.Get(first.ID)
	assert.False(t, ok)
	assert.True(t, tray.Close(second.ID))
	assert.False(t, tray.Close(second.ID))
}

func TestOnPush_Displays(t *testing.T) {
	bridge, tray, _ := newBridge(t)

	ev := event.New(context.Background(), event.TypePush)
	d := bridge.OnPush(ev, []byte(`{"title":"Order Confirmed!","data":{"url":"/orders/42"}}`))
	require.NoError(t, settle(t, ev))

	assert.Equal(t, "Order Confirmed!", d.Title)
	items := tray.List()
	require.Len(t, items, 1)
	assert.Equal(t, "Order Confirmed!", items[0].Descriptor.Title)
	assert.Equal(t, DefaultBody, items[0].Descriptor.Body)
	assert.Equal(t, "/orders/42", items[0].Descriptor.TargetURL())
}

func TestOnPush_SameTagTwiceShowsOne(t *testing.T) {
	bridge, tray, _ := newBridge(t)

	for _, title := range []string{"Sale", "Bigger sale"} {
		ev := event.New(context.Background(), event.TypePush)
		bridge.OnPush(ev, []byte(`{"title":"`+title+`"}`))
		require.NoError(t, settle(t, ev))
	}

	items := tray.List()
	require.Len(t, items, 1)
	assert.Equal(t, "Bigger sale", items[0].Descriptor.Title)
}

func TestOnPush_MalformedShowsDefaults(t *testing.T) {
	bridge, tray, _ := newBridge(t)

	ev := event.New(context.Background(), event.TypePush)
	bridge.OnPush(ev, []byte(`{broken`))
	require.NoError(t, settle(t, ev))

	items := tray.List()
	require.Len(t, items, 1)
	assert.Equal(t, Defaults(), items[0].Descriptor)
}

func TestOnInteraction_FocusesMatchingWindow(t *testing.T) {
	bridge, _, windows := newBridge(t)
	home, err := windows.Register("/")
	require.NoError(t, err)
	orders, err := windows.Register("/orders/42")
	require.NoError(t, err)

	ev := event.New(context.Background(), event.TypeNotificationClick)
	bridge.OnInteraction(ev, Interaction{Action: ActionView, Data: map[string]any{"url": "/orders/42"}})
	require.NoError(t, settle(t, ev))

	all := windows.MatchAll()
	require.Len(t, all, 2)
	got, _ := windows.Get(orders.ID)
	assert.True(t, got.Focused)
	got, _ = windows.Get(home.ID)
	assert.False(t, got.Focused)
}

func TestOnInteraction_DefaultTargetMatchesRoot(t *testing.T) {
	bridge, _, windows := newBridge(t)
	home, err := windows.Register("https://shop.example/")
	require.NoError(t, err)

	ev := event.New(context.Background(), event.TypeNotificationClick)
	bridge.OnInteraction(ev, Interaction{})
	require.NoError(t, settle(t, ev))

	require.Len(t, windows.MatchAll(), 1)
	got, _ := windows.Get(home.ID)
	assert.True(t, got.Focused)
}

func TestOnInteraction_OpensWindow(t *testing.T) {
	bridge, _, windows := newBridge(t)
	_, err := windows.Register("/")
	require.NoError(t, err)

	ev := event.New(context.Background(), event.TypeNotificationClick)
	bridge.OnInteraction(ev, Interaction{Data: map[string]any{"url": "/wishlist"}})
	require.NoError(t, settle(t, ev))

	all := windows.MatchAll()
	require.Len(t, all, 2)
	assert.Equal(t, "https://shop.example/wishlist", all[1].URL)
	assert.True(t, all[1].Focused)
}

func TestOnInteraction_DismissDoesNothing(t *testing.T) {
	bridge, tray, windows := newBridge(t)
	n, err := tray.Show(Defaults())
	require.NoError(t, err)

	ev := event.New(context.Background(), event.TypeNotificationClick)
	bridge.OnInteraction(ev, Interaction{Action: ActionDismiss, NotificationID: n.ID, Data: map[string]any{"url": "/cart"}})
	require.NoError(t, settle(t, ev))

	assert.Empty(t, windows.MatchAll())
	assert.Empty(t, tray.List(), "notification is closed either way")
}

func TestOnInteraction_ForeignTargetFails(t *testing.T) {
	bridge, _, windows := newBridge(t)

	ev := event.New(context.Background(), event.TypeNotificationClick)
	bridge.OnInteraction(ev, Interaction{Data: map[string]any{"url": "https://evil.example/"}})
	err := settle(t, ev)

	assert.ErrorIs(t, err, clients.ErrForeignOrigin)
	assert.Empty(t, windows.MatchAll())
}
