package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	StartServer(ctx context.Context, population, first, middle, last, rateLimit int) error
	IssueToken(clientID string, ttl time.Duration) error
	ClearToken()
	SetToken(token string)
	GetLastStatusCode() int
	GetLastResponseBody() []byte
	GetResponseField(field string) (any, error)
}

// RegisterSteps registers server setup, authentication and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^a pseudonym server for a population of (\d+) with (\d+) first, (\d+) middle and (\d+) last words$`, steps.startServer)
	ctx.Step(`^a pseudonym server for a population of (\d+) limited to (\d+) requests per minute$`, steps.startLimitedServer)
	ctx.Step(`^the server restarts$`, steps.restartServer)
	ctx.Step(`^I am authenticated as client "([^"]*)"$`, steps.authenticateAs)
	ctx.Step(`^I hold an expired token for client "([^"]*)"$`, steps.expiredToken)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)
	ctx.Step(`^I hold the token "([^"]*)"$`, steps.holdToken)

	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContainField)
}

type commonSteps struct {
	tc TestContext

	population, first, middle, last, rateLimit int
}

func (s *commonSteps) startServer(ctx context.Context, population, first, middle, last int) error {
	s.population, s.first, s.middle, s.last, s.rateLimit = population, first, middle, last, 0
	return s.tc.StartServer(ctx, population, first, middle, last, 0)
}

func (s *commonSteps) startLimitedServer(ctx context.Context, population, rateLimit int) error {
	s.population, s.first, s.middle, s.last, s.rateLimit = population, 200, 50, 100, rateLimit
	return s.tc.StartServer(ctx, population, s.first, s.middle, s.last, rateLimit)
}

func (s *commonSteps) restartServer(ctx context.Context) error {
	return s.tc.StartServer(ctx, s.population, s.first, s.middle, s.last, s.rateLimit)
}

func (s *commonSteps) authenticateAs(clientID string) error {
	return s.tc.IssueToken(clientID, time.Hour)
}

func (s *commonSteps) expiredToken(clientID string) error {
	return s.tc.IssueToken(clientID, -time.Hour)
}

func (s *commonSteps) notAuthenticated() error {
	s.tc.ClearToken()
	return nil
}

func (s *commonSteps) holdToken(token string) error {
	s.tc.SetToken(token)
	return nil
}

func (s *commonSteps) responseStatusShouldBe(expected int) error {
	if got := s.tc.GetLastStatusCode(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(field, expected string) error {
	value, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(value) != expected {
		return fmt.Errorf("expected %s to be %q, got %v", field, expected, value)
	}
	return nil
}

func (s *commonSteps) responseShouldContainField(field string) error {
	_, err := s.tc.GetResponseField(field)
	return err
}
