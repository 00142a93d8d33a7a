package account

import (
	"context"
	"errors"
	"testing"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/gateway/gatewaytest"
	"github.com/FiveIT/eseuri/internal/queries"
)

func TestInfoReportsRegistration(t *testing.T) {
	fake := gatewaytest.New()
	fake.Reply(queries.User.Name, `{"users":[{"id":42,"role":"teacher","updated_at":"2021-05-01T10:00:00+00:00"}]}`)

	info, err := NewService(fake).Info(context.Background(), 42, "student")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info != (Info{ID: 42, IsRegistered: true, Role: "teacher"}) {
		t.Errorf("unexpected info: %+v", info)
	}

	var vars queries.UserVars
	if err := fake.Calls(queries.User.Name)[0].DecodeVars(&vars); err != nil || vars.ID != 42 {
		t.Errorf("unexpected vars %+v (%v)", vars, err)
	}
}

func TestRegisteredWithoutUpdate(t *testing.T) {
	fake := gatewaytest.New()
	fake.Reply(queries.User.Name, `{"users":[{"id":7,"role":"student","updated_at":null}]}`)

	ok, err := NewService(fake).Registered(context.Background(), 7)
	if err != nil {
		t.Fatalf("Registered failed: %v", err)
	}
	if ok {
		t.Error("a user that never updated their profile is not registered")
	}
}

func TestUnknownUser(t *testing.T) {
	fake := gatewaytest.New()
	fake.Reply(queries.User.Name, `{"users":[]}`)

	if _, err := NewService(fake).Info(context.Background(), 9, "student"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := NewService(fake).Registered(context.Background(), 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupPropagatesGatewayErrors(t *testing.T) {
	fake := gatewaytest.New()
	fake.Fail(queries.User.Name, &gateway.GatewayError{Code: "access-denied", Message: "denied"})

	if _, err := NewService(fake).Registered(context.Background(), 1); !gateway.IsCode(err, "access-denied") {
		t.Fatalf("expected the gateway error, got %v", err)
	}
}
