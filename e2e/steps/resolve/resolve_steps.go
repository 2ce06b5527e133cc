package resolve

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetLastStatusCode() int
	GetResponseField(field string) (any, error)
	Remember(name, value string)
	Recall(name string) (string, bool)
}

// RegisterSteps registers resolve-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &resolveSteps{tc: tc}

	ctx.Step(`^I resolve "([^"]*)"$`, steps.resolve)
	ctx.Step(`^I resolve "([^"]*)" (\d+) times$`, steps.resolveTimes)
	ctx.Step(`^I resolve the batch "([^"]*)"$`, steps.resolveBatch)
	ctx.Step(`^I remember the pseudonym as "([^"]*)"$`, steps.rememberPseudonym)

	ctx.Step(`^the pseudonym should have three words$`, steps.pseudonymShouldHaveThreeWords)
	ctx.Step(`^the pseudonym should equal the remembered "([^"]*)"$`, steps.pseudonymShouldEqualRemembered)
	ctx.Step(`^the pseudonym should differ from the remembered "([^"]*)"$`, steps.pseudonymShouldDifferFromRemembered)
	ctx.Step(`^the batch should return (\d+) results$`, steps.batchShouldReturnNResults)
	ctx.Step(`^batch result (\d+) should equal the remembered "([^"]*)"$`, steps.batchResultShouldEqualRemembered)
	ctx.Step(`^the response should not mention "([^"]*)"$`, steps.responseShouldNotMention)
}

type resolveSteps struct {
	tc TestContext
}

func (s *resolveSteps) resolve(identifier string) error {
	return s.tc.POST("/v1/pseudonyms", map[string]string{"identifier": identifier})
}

func (s *resolveSteps) resolveTimes(identifier string, n int) error {
	for range n {
		if err := s.resolve(identifier); err != nil {
			return err
		}
	}
	return nil
}

func (s *resolveSteps) resolveBatch(identifiers string) error {
	return s.tc.POST("/v1/pseudonyms/batch", map[string][]string{
		"identifiers": strings.Split(identifiers, ","),
	})
}

func (s *resolveSteps) pseudonym() (string, error) {
	value, err := s.tc.GetResponseField("pseudonym")
	if err != nil {
		return "", err
	}
	name, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("pseudonym is %T, not a string", value)
	}
	return name, nil
}

func (s *resolveSteps) rememberPseudonym(name string) error {
	pseudonym, err := s.pseudonym()
	if err != nil {
		return err
	}
	s.tc.Remember(name, pseudonym)
	return nil
}

func (s *resolveSteps) pseudonymShouldHaveThreeWords() error {
	pseudonym, err := s.pseudonym()
	if err != nil {
		return err
	}
	if parts := strings.Split(pseudonym, "-"); len(parts) != 3 {
		return fmt.Errorf("expected three words, got %q", pseudonym)
	}
	return nil
}

func (s *resolveSteps) pseudonymShouldEqualRemembered(name string) error {
	return s.compareRemembered(name, true)
}

func (s *resolveSteps) pseudonymShouldDifferFromRemembered(name string) error {
	return s.compareRemembered(name, false)
}

func (s *resolveSteps) compareRemembered(name string, wantEqual bool) error {
	pseudonym, err := s.pseudonym()
	if err != nil {
		return err
	}
	remembered, ok := s.tc.Recall(name)
	if !ok {
		return fmt.Errorf("nothing remembered as %q", name)
	}
	if (pseudonym == remembered) != wantEqual {
		return fmt.Errorf("pseudonym %q compared with remembered %q: want equal=%v", pseudonym, remembered, wantEqual)
	}
	return nil
}

func (s *resolveSteps) results() ([]map[string]any, error) {
	value, err := s.tc.GetResponseField("results")
	if err != nil {
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("results is %T, not a list", value)
	}
	results := make([]map[string]any, len(items))
	for i, item := range items {
		if results[i], ok = item.(map[string]any); !ok {
			return nil, fmt.Errorf("result %d is %T, not an object", i, item)
		}
	}
	return results, nil
}

func (s *resolveSteps) batchShouldReturnNResults(n int) error {
	results, err := s.results()
	if err != nil {
		return err
	}
	if len(results) != n {
		return fmt.Errorf("expected %d results, got %d", n, len(results))
	}
	return nil
}

func (s *resolveSteps) batchResultShouldEqualRemembered(index int, name string) error {
	results, err := s.results()
	if err != nil {
		return err
	}
	if index < 1 || index > len(results) {
		return fmt.Errorf("no batch result %d", index)
	}
	remembered, ok := s.tc.Recall(name)
	if !ok {
		return fmt.Errorf("nothing remembered as %q", name)
	}
	if got := fmt.Sprint(results[index-1]["pseudonym"]); got != remembered {
		return fmt.Errorf("batch result %d is %q, remembered %q", index, got, remembered)
	}
	return nil
}

func (s *resolveSteps) responseShouldNotMention(text string) error {
	for _, field := range []string{"pseudonym", "digest", "error_description"} {
		value, err := s.tc.GetResponseField(field)
		if err == nil && strings.Contains(fmt.Sprint(value), text) {
			return fmt.Errorf("response field %s mentions %q", field, text)
		}
	}
	return nil
}
