// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/portfolio-metrics/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// RunReport provides a mock function with given fields: ctx, propertyID, req
func (_m *MockClient) RunReport(ctx context.Context, propertyID string, req google.ReportRequest) (*google.ReportResponse, error) {
	ret := _m.Called(ctx, propertyID, req)

	if len(ret) == 0 {
		panic("no return value specified for RunReport")
	}

	var r0 *google.ReportResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, google.ReportRequest) (*google.ReportResponse, error)); ok {
		return rf(ctx, propertyID, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, google.ReportRequest) *google.ReportResponse); ok {
		r0 = rf(ctx, propertyID, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.ReportResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, google.ReportRequest) error); ok {
		r1 = rf(ctx, propertyID, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// SearchAnalytics provides a mock function with given fields: ctx, siteURL, req
func (_m *MockClient) SearchAnalytics(ctx context.Context, siteURL string, req google.SearchAnalyticsRequest) (*google.SearchAnalyticsResponse, error) {
	ret := _m.Called(ctx, siteURL, req)

	if len(ret) == 0 {
		panic("no return value specified for SearchAnalytics")
	}

	var r0 *google.SearchAnalyticsResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, google.SearchAnalyticsRequest) (*google.SearchAnalyticsResponse, error)); ok {
		return rf(ctx, siteURL, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, google.SearchAnalyticsRequest) *google.SearchAnalyticsResponse); ok {
		r0 = rf(ctx, siteURL, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.SearchAnalyticsResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, google.SearchAnalyticsRequest) error); ok {
		r1 = rf(ctx, siteURL, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
