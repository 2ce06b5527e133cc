//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"pseudonym/internal/pseudonym/audit"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	publisher *audit.KafkaPublisher
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	pub, err := audit.NewKafkaPublisher([]string{s.redpanda.Broker}, "pseudonym.assignments.test")
	s.Require().NoError(err)
	s.publisher = pub

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(s.publisher.EnsureTopic(ctx, 1, 1))
	// A second call finds the topic and succeeds.
	s.Require().NoError(s.publisher.EnsureTopic(ctx, 1, 1))
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	s.publisher.Close()
}

func (s *KafkaPublisherSuite) TestEmitProducesKeyedRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	event := ports.AssignmentEvent{
		Digest:     models.Digest{0xfe, 0xed},
		AssignedAt: time.Now().UTC().Truncate(time.Second),
		RequestID:  "req-kafka",
	}
	s.Require().NoError(s.publisher.Emit(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics("pseudonym.assignments.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	record := records[0]
	s.Equal(event.Digest[:], record.Key)
	var msg audit.Message
	s.Require().NoError(json.Unmarshal(record.Value, &msg))
	s.Equal(event.Digest.Hex(), msg.Digest)
	s.Equal("req-kafka", msg.RequestID)
	s.True(event.AssignedAt.Equal(msg.AssignedAt))
}
