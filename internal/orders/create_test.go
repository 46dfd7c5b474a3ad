package orders

import (
	"errors"
	"slices"
	"testing"

	"github.com/safar/go-ticket-store/internal/database"
)

func attendee(doc string) Attendee {
	return Attendee{DocumentNumber: doc, FirstName: "Ana", LastName: "Quispe"}
}

func TestValidateItems(t *testing.T) {
	buyer := Buyer{UserID: 1}

	tests := []struct {
		name  string
		buyer Buyer
		items []Item
		want  error
	}{
		{"no buyer", Buyer{}, []Item{{TicketTypeID: 1, Quantity: 1, Attendees: []Attendee{attendee("1")}}}, database.ErrInvalidInput},
		{"no items", buyer, nil, database.ErrInvalidInput},
		{"zero quantity", buyer, []Item{{TicketTypeID: 1}}, database.ErrInvalidInput},
		{"attendee count mismatch", buyer, []Item{{TicketTypeID: 1, Quantity: 2, Attendees: []Attendee{attendee("1")}}}, database.ErrInvalidInput},
		{"anonymous attendee", buyer, []Item{{TicketTypeID: 1, Quantity: 1, Attendees: []Attendee{{FirstName: "A", LastName: "B"}}}}, database.ErrInvalidInput},
		{"missing name", buyer, []Item{{TicketTypeID: 1, Quantity: 1, Attendees: []Attendee{{Email: "a@b.pe"}}}}, database.ErrInvalidInput},
		{"same attendee twice", buyer, []Item{
			{TicketTypeID: 1, Quantity: 1, Attendees: []Attendee{attendee("44556677")}},
			{TicketTypeID: 2, Quantity: 1, Attendees: []Attendee{attendee(" 44556677 ")}},
		}, database.ErrDuplicateRegistration},
		{"valid", buyer, []Item{{TicketTypeID: 1, Quantity: 2, Attendees: []Attendee{attendee("1"), {Email: "x@y.pe", FirstName: "X", LastName: "Y"}}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItems(tt.buyer, tt.items)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRequestedByTicketType(t *testing.T) {
	requested, ids := requestedByTicketType([]Item{
		{TicketTypeID: 9, Quantity: 1},
		{TicketTypeID: 3, Quantity: 2},
		{TicketTypeID: 9, Quantity: 2},
	})
	if !slices.Equal(ids, []int64{3, 9}) {
		t.Errorf("Expected ids [3 9], got %v", ids)
	}
	if requested[9] != 3 || requested[3] != 2 {
		t.Errorf("Unexpected quantities %v", requested)
	}
}

func TestIdentityKeyNormalizesEmail(t *testing.T) {
	if a, b := identityKey(Attendee{Email: " Ana@Mail.PE "}), identityKey(Attendee{Email: "ana@mail.pe"}); a != b {
		t.Errorf("Expected equal keys, got %q and %q", a, b)
	}
	if got := identityKey(Attendee{DocumentNumber: "123", Email: "a@b.c"}); got != "doc:123" {
		t.Errorf("Expected doc:123, got %q", got)
	}
}
