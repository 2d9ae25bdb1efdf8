//go:build unit

package radio

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"golang-wifiprov/internal/mock"
	"golang-wifiprov/internal/port"
	"golang-wifiprov/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testAP = types.APConfig{
	Channel:    1,
	MaxClients: 4,
	Address:    netip.MustParsePrefix("192.168.4.1/24"),
}

func TestController_StartAccessPoint(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mock.NewMockRadioDriver(ctrl)
	c := NewController(driver, testAP, nil)
	ctx := context.Background()

	driver.EXPECT().StartAccessPoint(ctx, types.APConfig{
		SSID:       "OpenAI",
		Channel:    1,
		MaxClients: 4,
		Address:    testAP.Address,
	}).Return(nil)

	h, err := c.StartAccessPoint(ctx, "OpenAI", "")
	require.NoError(t, err)
	assert.Equal(t, types.RadioAccessPoint, h.Mode())
	assert.Equal(t, types.RadioAccessPoint, c.Mode())

	driver.EXPECT().Stop(ctx).Return(nil)
	require.NoError(t, c.Stop(ctx, h))
	assert.Equal(t, types.RadioIdle, c.Mode())
}

func TestController_ModeExclusivity(t *testing.T) {
	ctx := context.Background()

	t.Run("StationWhileAccessPoint", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		driver.EXPECT().StartAccessPoint(ctx, gomock.Any()).Return(nil)
		_, err := c.StartAccessPoint(ctx, "OpenAI", "")
		require.NoError(t, err)

		_, err = c.StartStation(ctx, "Home", "pw", func(types.RadioEvent) {})
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
		assert.Equal(t, types.RadioAccessPoint, c.Mode())
	})

	t.Run("AccessPointWhileStation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		driver.EXPECT().StartStation(ctx, types.StationConfig{SSID: "Home", Passphrase: "pw"}, gomock.Any()).Return(nil)
		_, err := c.StartStation(ctx, "Home", "pw", func(types.RadioEvent) {})
		require.NoError(t, err)

		_, err = c.StartAccessPoint(ctx, "OpenAI", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
		assert.Equal(t, types.RadioStation, c.Mode())
	})

	t.Run("SameModeTwice", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		driver.EXPECT().StartAccessPoint(ctx, gomock.Any()).Return(nil).Times(1)
		_, err := c.StartAccessPoint(ctx, "OpenAI", "")
		require.NoError(t, err)

		_, err = c.StartAccessPoint(ctx, "OpenAI", "")
		assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
	})

	t.Run("StartAfterStop", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		driver.EXPECT().StartAccessPoint(ctx, gomock.Any()).Return(nil)
		driver.EXPECT().Stop(ctx).Return(nil)
		driver.EXPECT().StartStation(ctx, gomock.Any(), gomock.Any()).Return(nil)

		h, err := c.StartAccessPoint(ctx, "OpenAI", "")
		require.NoError(t, err)
		require.NoError(t, c.Stop(ctx, h))

		_, err = c.StartStation(ctx, "Home", "pw", func(types.RadioEvent) {})
		require.NoError(t, err)
		assert.Equal(t, types.RadioStation, c.Mode())
	})
}

func TestController_HardwareFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mock.NewMockRadioDriver(ctrl)
	c := NewController(driver, testAP, nil)
	ctx := context.Background()

	driver.EXPECT().StartAccessPoint(ctx, gomock.Any()).Return(errors.New("no such device"))
	driver.EXPECT().Stop(ctx).Return(nil)

	_, err := c.StartAccessPoint(ctx, "OpenAI", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRadioHardwareInit))
	assert.Equal(t, types.RadioIdle, c.Mode())
}

func TestController_StaleHandle(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mock.NewMockRadioDriver(ctrl)
	c := NewController(driver, testAP, nil)
	ctx := context.Background()

	driver.EXPECT().StartAccessPoint(ctx, gomock.Any()).Return(nil).Times(2)
	driver.EXPECT().Stop(ctx).Return(nil).Times(1)

	first, err := c.StartAccessPoint(ctx, "OpenAI", "")
	require.NoError(t, err)
	require.NoError(t, c.Stop(ctx, first))

	second, err := c.StartAccessPoint(ctx, "OpenAI", "")
	require.NoError(t, err)

	err = c.Stop(ctx, first)
	assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
	assert.Equal(t, types.RadioAccessPoint, c.Mode())

	err = c.Stop(ctx, nil)
	assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
	_ = second
}

func TestController_Rejoin(t *testing.T) {
	ctx := context.Background()

	t.Run("InStation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		driver.EXPECT().StartStation(ctx, gomock.Any(), gomock.Any()).Return(nil)
		driver.EXPECT().Join(ctx).Return(nil)

		_, err := c.StartStation(ctx, "Home", "pw", func(types.RadioEvent) {})
		require.NoError(t, err)
		assert.NoError(t, c.Rejoin(ctx))
	})

	t.Run("NotInStation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		driver := mock.NewMockRadioDriver(ctrl)
		c := NewController(driver, testAP, nil)

		err := c.Rejoin(ctx)
		assert.True(t, errors.Is(err, types.ErrRadioModeConflict))
	})
}

func TestController_DropsEventsAfterStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	driver := mock.NewMockRadioDriver(ctrl)
	c := NewController(driver, testAP, nil)
	ctx := context.Background()

	var driverHandler port.EventHandler
	driver.EXPECT().StartStation(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ types.StationConfig, handler port.EventHandler) error {
			driverHandler = handler
			return nil
		})
	driver.EXPECT().Stop(ctx).Return(nil)

	var received []types.RadioEventKind
	h, err := c.StartStation(ctx, "Home", "pw", func(ev types.RadioEvent) {
		received = append(received, ev.Kind)
	})
	require.NoError(t, err)

	driverHandler(types.RadioEvent{Kind: types.EventAssociated})
	require.NoError(t, c.Stop(ctx, h))
	driverHandler(types.RadioEvent{Kind: types.EventDisconnected})

	assert.Equal(t, []types.RadioEventKind{types.EventAssociated}, received)
}
