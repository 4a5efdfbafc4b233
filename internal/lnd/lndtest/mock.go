// Package lndtest содержит моки управляющего API для тестов
package lndtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/lnd"
)

// MockControlPlane мок lnd.ControlPlane
type MockControlPlane struct {
	mock.Mock
}

func (m *MockControlPlane) UpdateChannelFees(ctx context.Context, resourceID string, fees map[string]lnd.FeePolicy) (*lnd.Result, error) {
	args := m.Called(ctx, resourceID, fees)
	return result(args)
}

func (m *MockControlPlane) RebalanceChannels(ctx context.Context, resourceID string, legs []lnd.RebalanceLeg) (*lnd.Result, error) {
	args := m.Called(ctx, resourceID, legs)
	return result(args)
}

func (m *MockControlPlane) OpenChannel(ctx context.Context, resourceID, peer string, amountSat int64) (*lnd.Result, error) {
	args := m.Called(ctx, resourceID, peer, amountSat)
	return result(args)
}

func (m *MockControlPlane) CloseChannel(ctx context.Context, resourceID, channelID string) (*lnd.Result, error) {
	args := m.Called(ctx, resourceID, channelID)
	return result(args)
}

func result(args mock.Arguments) (*lnd.Result, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lnd.Result), args.Error(1)
}

// MockSource мок lnd.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Resources(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSource) Snapshot(ctx context.Context, resourceID string) (*domain.ResourceSnapshot, error) {
	args := m.Called(ctx, resourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ResourceSnapshot), args.Error(1)
}

var (
	_ lnd.ControlPlane = (*MockControlPlane)(nil)
	_ lnd.Source       = (*MockSource)(nil)
)
