//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"vericred/pkg/platform/audit"
	"vericred/pkg/testutil/containers"
)

type KafkaStoreSuite struct {
	suite.Suite
	broker string
}

func TestKafkaStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.broker = mgr.GetRedpanda(s.T()).Broker
}

func (s *KafkaStoreSuite) TestAppendProducesConsumableEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "audit-events-" + uuid.NewString()

	store, err := audit.NewKafkaStore(ctx, []string{s.broker}, topic)
	s.Require().NoError(err)
	defer store.Close()

	want := audit.Event{
		Kind:      audit.KindCredentialIssued,
		Actor:     "identity-1",
		Subject:   "credential-1",
		Detail:    map[string]string{"type": "UniversityDegree"},
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	s.Require().NoError(store.Append(ctx, want))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().Len(records, 1)

	s.Equal(want.Actor, string(records[0].Key), "events are keyed by actor for per-actor ordering")

	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(want.Kind, got.Kind)
	s.Equal(want.Actor, got.Actor)
	s.Equal(want.Subject, got.Subject)
	s.Equal(want.Detail, got.Detail)
	s.Equal(want.RequestID, got.RequestID)
}

func (s *KafkaStoreSuite) TestTopicCreationIsIdempotent() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "audit-events-" + uuid.NewString()

	first, err := audit.NewKafkaStore(ctx, []string{s.broker}, topic)
	s.Require().NoError(err)
	defer first.Close()

	second, err := audit.NewKafkaStore(ctx, []string{s.broker}, topic)
	s.Require().NoError(err, "an existing topic must not fail store construction")
	defer second.Close()
}

func (s *KafkaStoreSuite) TestListByActorIsNotServed() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "audit-events-" + uuid.NewString()

	store, err := audit.NewKafkaStore(ctx, []string{s.broker}, topic)
	s.Require().NoError(err)
	defer store.Close()

	_, err = store.ListByActor(ctx, "identity-1")
	s.Error(err, "reads happen downstream, not from the producer")
}
