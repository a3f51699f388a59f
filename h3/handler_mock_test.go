package h3

// Hand-written in the shape mockgen would produce for the Handler
// interface (mockgen itself isn't run here, but the generated-code
// shape — MockFoo + MockFooMockRecorder delegating through a
// gomock.Controller — is copied from saitolume-quic-go/internal/mocks).

import (
	"reflect"

	"github.com/golang/mock/gomock"
)

type MockHandler struct {
	ctrl     *gomock.Controller
	recorder *MockHandlerMockRecorder
}

type MockHandlerMockRecorder struct {
	mock *MockHandler
}

func NewMockHandler(ctrl *gomock.Controller) *MockHandler {
	m := &MockHandler{ctrl: ctrl}
	m.recorder = &MockHandlerMockRecorder{m}
	return m
}

func (m *MockHandler) EXPECT() *MockHandlerMockRecorder {
	return m.recorder
}

func (m *MockHandler) Handle(stream *StreamContext, event Event, data []byte, buf []byte) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Handle", stream, event, data, buf)
	n, _ := ret[0].(int)
	err, _ := ret[1].(error)
	return n, err
}

func (mr *MockHandlerMockRecorder) Handle(stream, event, data, buf interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Handle", reflect.TypeOf((*MockHandler)(nil).Handle), stream, event, data, buf)
}
