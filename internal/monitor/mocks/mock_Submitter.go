// Package mocks provides test doubles for the monitor's dependencies.
package mocks

import (
	"context"
	"time"

	mock "github.com/stretchr/testify/mock"

	submit "github.com/sells-group/lead-entry/internal/submit"
)

// MockSubmitter is a mock type for the Submitter interface.
type MockSubmitter struct {
	mock.Mock
}

// Start provides a mock function with given fields: ctx
func (_m *MockSubmitter) Start(ctx context.Context) error {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Start")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context) error); ok {
		r0 = rf(ctx)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// Ready provides a mock function with given fields:
func (_m *MockSubmitter) Ready() bool {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Ready")
	}

	var r0 bool
	if rf, ok := ret.Get(0).(func() bool); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(bool)
	}

	return r0
}

// Submit provides a mock function with given fields: ctx, req
func (_m *MockSubmitter) Submit(ctx context.Context, req submit.Request) submit.Outcome {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Submit")
	}

	var r0 submit.Outcome
	if rf, ok := ret.Get(0).(func(context.Context, submit.Request) submit.Outcome); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.Get(0).(submit.Outcome)
	}

	return r0
}

// CleanupScreenshots provides a mock function with given fields: retention
func (_m *MockSubmitter) CleanupScreenshots(retention time.Duration) (int, error) {
	ret := _m.Called(retention)

	if len(ret) == 0 {
		panic("no return value specified for CleanupScreenshots")
	}

	var r0 int
	var r1 error
	if rf, ok := ret.Get(0).(func(time.Duration) (int, error)); ok {
		return rf(retention)
	}
	if rf, ok := ret.Get(0).(func(time.Duration) int); ok {
		r0 = rf(retention)
	} else {
		r0 = ret.Get(0).(int)
	}

	if rf, ok := ret.Get(1).(func(time.Duration) error); ok {
		r1 = rf(retention)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Close provides a mock function with given fields:
func (_m *MockSubmitter) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockSubmitter creates a new instance of MockSubmitter.
func NewMockSubmitter(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSubmitter {
	mock := &MockSubmitter{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
