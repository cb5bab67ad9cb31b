// Package mocks provides test doubles for the ingest API client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	ingestapi "github.com/sells-group/ingest-cli/pkg/ingestapi"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Analyze provides a mock function with given fields: ctx, f, req
func (_m *MockClient) Analyze(ctx context.Context, f ingestapi.File, req ingestapi.AnalyzeRequest) (*ingestapi.AnalyzeResponse, error) {
	ret := _m.Called(ctx, f, req)
	var r0 *ingestapi.AnalyzeResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.AnalyzeResponse)
	}
	return r0, ret.Error(1)
}

// PreviewMapping provides a mock function with given fields: ctx, f, mappings, rows
func (_m *MockClient) PreviewMapping(ctx context.Context, f ingestapi.File, mappings map[string]*string, rows int) (*ingestapi.PreviewResponse, error) {
	ret := _m.Called(ctx, f, mappings, rows)
	var r0 *ingestapi.PreviewResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.PreviewResponse)
	}
	return r0, ret.Error(1)
}

// AnalyzeSchemaCompatibility provides a mock function with given fields: ctx, f, table, mappings
func (_m *MockClient) AnalyzeSchemaCompatibility(ctx context.Context, f ingestapi.File, table string, mappings map[string]*string) (*ingestapi.CompatibilityResponse, error) {
	ret := _m.Called(ctx, f, table, mappings)
	var r0 *ingestapi.CompatibilityResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.CompatibilityResponse)
	}
	return r0, ret.Error(1)
}

// GetColumnMismatchRecommendations provides a mock function with given fields: ctx, req
func (_m *MockClient) GetColumnMismatchRecommendations(ctx context.Context, req ingestapi.RecommendationRequest) (*ingestapi.RecommendationResponse, error) {
	ret := _m.Called(ctx, req)
	var r0 *ingestapi.RecommendationResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.RecommendationResponse)
	}
	return r0, ret.Error(1)
}

// Upload provides a mock function with given fields: ctx, f, mappings, mode, opts
func (_m *MockClient) Upload(ctx context.Context, f ingestapi.File, mappings map[string]*string, mode string, opts ingestapi.UploadOptions) (*ingestapi.UploadResponse, error) {
	ret := _m.Called(ctx, f, mappings, mode, opts)
	var r0 *ingestapi.UploadResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.UploadResponse)
	}
	return r0, ret.Error(1)
}

// ListTables provides a mock function with given fields: ctx
func (_m *MockClient) ListTables(ctx context.Context) ([]ingestapi.TableInfo, error) {
	ret := _m.Called(ctx)
	var r0 []ingestapi.TableInfo
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ingestapi.TableInfo)
	}
	return r0, ret.Error(1)
}

// DescribeTable provides a mock function with given fields: ctx, table
func (_m *MockClient) DescribeTable(ctx context.Context, table string) (*ingestapi.TableSchema, error) {
	ret := _m.Called(ctx, table)
	var r0 *ingestapi.TableSchema
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ingestapi.TableSchema)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient. Expectations are
// asserted when the test ends.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
