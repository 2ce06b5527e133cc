package e2e

import (
	"github.com/cucumber/godog"

	"pseudonym/e2e/steps/common"
	"pseudonym/e2e/steps/resolve"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (authentication, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register resolve-specific steps
	resolve.RegisterSteps(ctx, tc)
}
