// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/cfgate/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Browser Session Mock --

// MockSession mocks browser.Session. Evaluate expectations return a plain Go value that is
// round-tripped through JSON into the caller's result, the same way CDP results are decoded.
type MockSession struct {
	mock.Mock
}

var _ browser.Session = (*MockSession)(nil)

func (m *MockSession) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSession) Navigate(ctx context.Context, url string, policy browser.WaitPolicy, timeout time.Duration) error {
	return m.Called(ctx, url, policy, timeout).Error(0)
}

func (m *MockSession) Evaluate(ctx context.Context, script string, res interface{}) error {
	args := m.Called(ctx, script)
	return assign(args.Get(0), args.Error(1), res)
}

func (m *MockSession) EvaluateInFrame(ctx context.Context, frame browser.Frame, script string, res interface{}) error {
	args := m.Called(ctx, frame, script)
	return assign(args.Get(0), args.Error(1), res)
}

func (m *MockSession) Frames(ctx context.Context) ([]browser.Frame, error) {
	args := m.Called(ctx)
	frames, _ := args.Get(0).([]browser.Frame)
	return frames, args.Error(1)
}

func (m *MockSession) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, selector, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockSession) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *MockSession) ClickInFrame(ctx context.Context, frame browser.Frame, selector string, timeout time.Duration) error {
	return m.Called(ctx, frame, selector, timeout).Error(0)
}

func (m *MockSession) SendKey(ctx context.Context, key browser.Key) error {
	return m.Called(ctx, key).Error(0)
}

// WaitForPredicate runs the real polling loop unless an expectation overrides it. The predicate
// itself usually drives other mocked calls such as Evaluate.
func (m *MockSession) WaitForPredicate(ctx context.Context, fn browser.PredicateFunc, timeout, poll time.Duration) (bool, error) {
	args := m.Called(ctx, timeout, poll)
	if len(args) == 0 {
		return browser.Poll(ctx, fn, timeout, poll)
	}
	return args.Bool(0), args.Error(1)
}

func (m *MockSession) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	args := m.Called(ctx)
	cookies, _ := args.Get(0).([]browser.Cookie)
	return cookies, args.Error(1)
}

func (m *MockSession) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	args := m.Called(ctx, fullPage)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// assign copies val into res through JSON.
func assign(val interface{}, err error, res interface{}) error {
	if err != nil || val == nil || res == nil {
		return err
	}
	data, merr := json.Marshal(val)
	if merr != nil {
		return merr
	}
	return json.Unmarshal(data, res)
}

// -- Session Factory Mock --

// MockSessionFactory mocks the component that opens browser sessions.
type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	args := m.Called(ctx, opts)
	sess, _ := args.Get(0).(browser.Session)
	return sess, args.Error(1)
}

func (m *MockSessionFactory) Status() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSessionFactory) ActiveSessions() int {
	args := m.Called()
	return args.Int(0)
}
