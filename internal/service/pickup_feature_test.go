package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/vaidashi/marketplace-api/internal/models"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
)

type pickupTestContext struct {
	store *mockOrderStore
	svc   *OrderService
	err   error
}

func (c *pickupTestContext) reset() {
	c.store = newMockOrderStore()
	c.svc = newTestOrderService(c.store)
	c.err = nil
}

func agent(id string) *models.Principal {
	return &models.Principal{UserID: "U-" + id, Role: models.RoleAgent, AgentID: &id}
}

func (c *pickupTestContext) anOrderWithCodes(orderID, status, dropoff, pickup string) error {
	order, item := sampleOrder(models.OrderStatus(status), models.PickupStatusPending)
	order.ID = orderID
	order.DropoffCode = dropoff
	order.PickupCode = pickup
	item.OrderID = orderID
	c.store.put(order, item)
	return nil
}

func (c *pickupTestContext) agentAcceptsDropoff(agentID, orderID, code string) error {
	_, c.err = c.svc.AcceptDropoff(context.Background(), agent(agentID), orderID, code)
	return nil
}

func (c *pickupTestContext) agentMarksReady(agentID, orderID string) error {
	_, c.err = c.svc.MarkReady(context.Background(), agent(agentID), orderID)
	return nil
}

func (c *pickupTestContext) agentVerifiesPickup(agentID, orderID, code string) error {
	_, c.err = c.svc.VerifyPickup(context.Background(), agent(agentID), orderID, code)
	return nil
}

func (c *pickupTestContext) theOrderIs(orderID, status, pickup string) error {
	order := c.store.orders[orderID]
	if string(order.Status) != status || string(order.PickupStatus) != pickup {
		return fmt.Errorf("expected %s/%s, got %s/%s", status, pickup, order.Status, order.PickupStatus)
	}
	return nil
}

func (c *pickupTestContext) theOrderHasAPickupDate(orderID string) error {
	if c.store.orders[orderID].ActualPickupDate == nil {
		return fmt.Errorf("order %s has no pickup date", orderID)
	}
	return nil
}

func (c *pickupTestContext) eventsWereRecorded(n int) error {
	if len(c.store.events) != n {
		return fmt.Errorf("expected %d events, got %d", n, len(c.store.events))
	}
	return nil
}

func (c *pickupTestContext) theRequestFailsWithStatus(status int) error {
	if c.err == nil {
		return fmt.Errorf("expected status %d, request succeeded", status)
	}
	if got := apperrors.StatusCode(c.err); got != status {
		return fmt.Errorf("expected status %d, got %d (%v)", status, got, c.err)
	}
	return nil
}

func InitializePickupScenario(ctx *godog.ScenarioContext) {
	tc := &pickupTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	ctx.Step(`^an order "([^"]*)" in status "([^"]*)" with drop-off code "([^"]*)" and pickup code "([^"]*)"$`, tc.anOrderWithCodes)
	ctx.Step(`^agent "([^"]*)" accepts the drop-off of "([^"]*)" with code "([^"]*)"$`, tc.agentAcceptsDropoff)
	ctx.Step(`^agent "([^"]*)" marks "([^"]*)" ready$`, tc.agentMarksReady)
	ctx.Step(`^agent "([^"]*)" verifies the pickup of "([^"]*)" with code "([^"]*)"$`, tc.agentVerifiesPickup)
	ctx.Step(`^the order "([^"]*)" is "([^"]*)" with pickup status "([^"]*)"$`, tc.theOrderIs)
	ctx.Step(`^the order "([^"]*)" has a pickup date$`, tc.theOrderHasAPickupDate)
	ctx.Step(`^(\d+) lifecycle events were recorded$`, tc.eventsWereRecorded)
	ctx.Step(`^the request fails with status (\d+)$`, tc.theRequestFailsWithStatus)
}

func TestPickupFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializePickupScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
