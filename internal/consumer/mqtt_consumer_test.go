package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	mqttcommon "wisefido-care/internal/common/mqtt"
	"wisefido-care/internal/evaluator"
	"wisefido-care/internal/models"
	"wisefido-care/internal/repository"
	"wisefido-care/internal/store"
	"wisefido-care/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) summary(args mock.Arguments) (*workflow.Summary, error) {
	s, _ := args.Get(0).(*workflow.Summary)
	return s, args.Error(1)
}

func (m *mockHandler) StartEncounter(ctx context.Context, residentID string, tag models.CaptureTag) (*workflow.Summary, error) {
	return m.summary(m.Called(residentID, tag))
}

func (m *mockHandler) SubmitReading(ctx context.Context, encounterID string, reading models.Reading) (*workflow.Summary, error) {
	return m.summary(m.Called(encounterID, reading))
}

func (m *mockHandler) AcknowledgeCritical(ctx context.Context, encounterID, by string) (*workflow.Summary, error) {
	return m.summary(m.Called(encounterID, by))
}

func (m *mockHandler) Escalate(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return m.summary(m.Called("escalate", encounterID))
}

func (m *mockHandler) Complete(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return m.summary(m.Called("complete", encounterID))
}

func (m *mockHandler) Confirm(ctx context.Context, encounterID string, solutionType models.SolutionType) (*workflow.Summary, error) {
	return m.summary(m.Called(encounterID, solutionType))
}

func (m *mockHandler) GetEncounter(encounterID string) (*workflow.Summary, error) {
	return m.summary(m.Called(encounterID))
}

func (m *mockHandler) Cancel(ctx context.Context, encounterID string) (*workflow.Summary, error) {
	return m.summary(m.Called("cancel", encounterID))
}

// fakeClient 记录订阅和回写
type fakeClient struct {
	subscribed   string
	handler      mqttcommon.MessageHandler
	unsubscribed []string
	topics       []string
	payloads     [][]byte
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	f.subscribed = topic
	f.handler = handler
	return nil
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeClient) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeClient) lastState(t *testing.T) StateMessage {
	t.Helper()
	require.NotEmpty(t, f.payloads)
	var msg StateMessage
	require.NoError(t, json.Unmarshal(f.payloads[len(f.payloads)-1], &msg))
	return msg
}

const (
	commandTopic = "wisefido/care/+/command"
	stateTopic   = "wisefido/care/{resident_id}/state"
)

func setupConsumer() (*MQTTConsumer, *fakeClient, *mockHandler) {
	client := &fakeClient{}
	handler := &mockHandler{}
	return NewMQTTConsumer(client, handler, commandTopic, stateTopic, 1, zap.NewNop()), client, handler
}

func send(t *testing.T, c *MQTTConsumer, residentID string, cmd interface{}) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, c.handleMessage("wisefido/care/"+residentID+"/command", payload))
}

func TestMatchResident(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"wisefido/care/r-205/command", "r-205", true},
		{"wisefido/care//command", "", false},
		{"wisefido/care/r-205/state", "", false},
		{"wisefido/care/r-205/command/extra", "", false},
		{"other/care/r-205/command", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := MatchResident(commandTopic, tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMQTTConsumer_StartStop(t *testing.T) {
	c, client, _ := setupConsumer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, commandTopic, client.subscribed)
	assert.NotNil(t, client.handler)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{commandTopic}, client.unsubscribed)
}

func TestMQTTConsumer_StartWithoutTopic(t *testing.T) {
	c := NewMQTTConsumer(&fakeClient{}, &mockHandler{}, "", stateTopic, 1, zap.NewNop())
	assert.Error(t, c.Start(context.Background()))
}

func TestMQTTConsumer_Dispatch(t *testing.T) {
	acquiring := &workflow.Summary{EncounterID: "enc-1", ResidentID: "r-205", State: workflow.StateAcquiring}
	reading := models.Reading{SpO2: 97, PulseRate: 70, PerfusionIndex: 2.5, Score: 78}

	tests := []struct {
		name  string
		cmd   Command
		setup func(h *mockHandler)
	}{
		{
			name: "start defaults to routine",
			cmd:  Command{Action: ActionStart},
			setup: func(h *mockHandler) {
				h.On("StartEncounter", "r-205", models.CaptureRoutine).Return(acquiring, nil)
			},
		},
		{
			name: "start recheck",
			cmd:  Command{Action: ActionStart, CaptureTag: models.CaptureRecheck},
			setup: func(h *mockHandler) {
				h.On("StartEncounter", "r-205", models.CaptureRecheck).Return(acquiring, nil)
			},
		},
		{
			name: "reading",
			cmd:  Command{Action: ActionReading, EncounterID: "enc-1", Reading: &reading},
			setup: func(h *mockHandler) {
				h.On("SubmitReading", "enc-1", reading).Return(acquiring, nil)
			},
		},
		{
			name: "acknowledge",
			cmd:  Command{Action: ActionAcknowledge, EncounterID: "enc-1", AcknowledgedBy: "nurse-li"},
			setup: func(h *mockHandler) {
				h.On("AcknowledgeCritical", "enc-1", "nurse-li").Return(acquiring, nil)
			},
		},
		{
			name:  "escalate",
			cmd:   Command{Action: ActionEscalate, EncounterID: "enc-1"},
			setup: func(h *mockHandler) { h.On("Escalate", "escalate", "enc-1").Return(acquiring, nil) },
		},
		{
			name:  "complete",
			cmd:   Command{Action: ActionComplete, EncounterID: "enc-1"},
			setup: func(h *mockHandler) { h.On("Complete", "complete", "enc-1").Return(acquiring, nil) },
		},
		{
			name: "confirm",
			cmd:  Command{Action: ActionConfirm, EncounterID: "enc-1", Solution: models.SolutionUpgrade},
			setup: func(h *mockHandler) {
				h.On("Confirm", "enc-1", models.SolutionUpgrade).Return(acquiring, nil)
			},
		},
		{
			name:  "cancel",
			cmd:   Command{Action: ActionCancel, EncounterID: "enc-1"},
			setup: func(h *mockHandler) { h.On("Cancel", "cancel", "enc-1").Return(acquiring, nil) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client, handler := setupConsumer()
			tt.setup(handler)
			if tt.cmd.Action != ActionStart {
				handler.On("GetEncounter", "enc-1").Return(acquiring, nil).Once()
			}
			tt.cmd.RequestID = "req-1"

			send(t, c, "r-205", tt.cmd)

			handler.AssertExpectations(t)
			assert.Equal(t, "wisefido/care/r-205/state", client.topics[0])
			msg := client.lastState(t)
			assert.True(t, msg.OK)
			assert.Equal(t, "req-1", msg.RequestID)
			assert.Equal(t, tt.cmd.Action, msg.Action)
			require.NotNil(t, msg.Encounter)
			assert.Equal(t, "enc-1", msg.Encounter.EncounterID)
		})
	}
}

func TestMQTTConsumer_RejectsBadCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"missing encounter id", Command{Action: ActionComplete}},
		{"reading without payload", Command{Action: ActionReading, EncounterID: "enc-1"}},
		{"unknown action", Command{Action: "pause", EncounterID: "enc-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, client, handler := setupConsumer()

			send(t, c, "r-205", tt.cmd)

			handler.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
			handler.AssertNotCalled(t, "SubmitReading", mock.Anything, mock.Anything)
			msg := client.lastState(t)
			assert.False(t, msg.OK)
			assert.Equal(t, CodeInvalidInput, msg.ErrorCode)
			assert.Nil(t, msg.Encounter)
		})
	}
}

func TestMQTTConsumer_MalformedPayload(t *testing.T) {
	c, client, _ := setupConsumer()

	require.NoError(t, c.handleMessage("wisefido/care/r-205/command", []byte("{not json")))
	msg := client.lastState(t)
	assert.False(t, msg.OK)
	assert.Equal(t, CodeInvalidInput, msg.ErrorCode)
	assert.Contains(t, msg.Error, "malformed command")
}

func TestMQTTConsumer_UnexpectedTopic(t *testing.T) {
	c, client, _ := setupConsumer()

	assert.Error(t, c.handleMessage("wisefido/radar/r-205/command", []byte(`{"action":"start"}`)))
	assert.Empty(t, client.payloads)
}

func TestMQTTConsumer_CriticalValueKeepsSnapshot(t *testing.T) {
	c, client, handler := setupConsumer()
	blocked := &workflow.Summary{EncounterID: "enc-1", ResidentID: "r-205", State: workflow.StateAcquiring}
	reading := models.Reading{SpO2: 80, PulseRate: 70, PerfusionIndex: 2.5, Score: 70}
	handler.On("GetEncounter", "enc-1").Return(blocked, nil)
	handler.On("SubmitReading", "enc-1", reading).Return(blocked, &evaluator.CriticalValueError{
		Breaches: []evaluator.VitalBreach{{Vital: "spo2", Value: 80, Bound: "< 85"}},
	})

	send(t, c, "r-205", Command{Action: ActionReading, EncounterID: "enc-1", Reading: &reading})

	msg := client.lastState(t)
	assert.False(t, msg.OK)
	assert.Equal(t, CodeCriticalValue, msg.ErrorCode)
	require.NotNil(t, msg.Encounter)
	assert.Equal(t, workflow.StateAcquiring, msg.Encounter.State)
}

func TestMQTTConsumer_RejectsOtherResidentsEncounter(t *testing.T) {
	c, client, handler := setupConsumer()
	other := &workflow.Summary{EncounterID: "enc-205", ResidentID: "demo-205", State: workflow.StateClassified}
	handler.On("GetEncounter", "enc-205").Return(other, nil)

	for _, action := range []string{ActionCancel, ActionConfirm, ActionEscalate, ActionComplete, ActionAcknowledge} {
		send(t, c, "demo-301", Command{Action: action, EncounterID: "enc-205", Solution: models.SolutionUpgrade})

		assert.Equal(t, "wisefido/care/demo-301/state", client.topics[len(client.topics)-1])
		msg := client.lastState(t)
		assert.False(t, msg.OK, action)
		assert.Equal(t, CodeNotFound, msg.ErrorCode, action)
		assert.Nil(t, msg.Encounter, action)
		assert.NotContains(t, msg.Error, "demo-205", action)
	}

	handler.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "Escalate", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "AcknowledgeCritical", mock.Anything, mock.Anything)
}

func TestMQTTConsumer_UnknownEncounter(t *testing.T) {
	c, client, handler := setupConsumer()
	handler.On("GetEncounter", "enc-9").Return(nil, fmt.Errorf("%w: enc-9", workflow.ErrEncounterNotFound))

	send(t, c, "demo-301", Command{Action: ActionCancel, EncounterID: "enc-9"})

	msg := client.lastState(t)
	assert.False(t, msg.OK)
	assert.Equal(t, CodeNotFound, msg.ErrorCode)
	handler.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&evaluator.CriticalValueError{}, CodeCriticalValue},
		{fmt.Errorf("wrap: %w", workflow.ErrCriticalUnacknowledged), CodeCriticalPending},
		{workflow.ErrInvalidTransition, CodeInvalidTransition},
		{evaluator.ErrInvalidScore, CodeInvalidInput},
		{workflow.ErrUnknownSolution, CodeInvalidInput},
		{store.ErrEncounterActive, CodeEncounterActive},
		{fmt.Errorf("%w: enc-9", workflow.ErrEncounterNotFound), CodeNotFound},
		{repository.ErrNotFound, CodeNotFound},
		{errors.New("connection reset"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}
