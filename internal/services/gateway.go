package services

import (
	"context"

	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
)

// BankGateway is the part of the aggregator client the services call.
// *gateway.Client satisfies it.
type BankGateway interface {
	CreateEndUserAgreement(ctx context.Context, req gateway.AgreementRequest) (*gateway.Agreement, error)
	GetAgreement(ctx context.Context, agreementID string) (*gateway.Agreement, error)
	CreateLink(ctx context.Context, req gateway.LinkRequest) (*gateway.Requisition, error)
	ListAccounts(ctx context.Context, requisitionID string) (*gateway.Requisition, error)
	GetTransactions(ctx context.Context, accountID string, dateFrom, dateTo *core.Date) (*gateway.TransactionsResponse, error)
	ListInstitutions(ctx context.Context, country string) ([]gateway.Institution, error)
}

var _ BankGateway = (*gateway.Client)(nil)

// DisabledGateway fails every call with err. It stands in for the client
// when the aggregator is not configured, so the rest of the API still runs.
func DisabledGateway(err error) BankGateway {
	if err == nil {
		err = gateway.ErrConfiguration
	}
	return disabledGateway{err: err}
}

type disabledGateway struct{ err error }

func (d disabledGateway) CreateEndUserAgreement(context.Context, gateway.AgreementRequest) (*gateway.Agreement, error) {
	return nil, d.err
}

func (d disabledGateway) GetAgreement(context.Context, string) (*gateway.Agreement, error) {
	return nil, d.err
}

func (d disabledGateway) CreateLink(context.Context, gateway.LinkRequest) (*gateway.Requisition, error) {
	return nil, d.err
}

func (d disabledGateway) ListAccounts(context.Context, string) (*gateway.Requisition, error) {
	return nil, d.err
}

func (d disabledGateway) GetTransactions(context.Context, string, *core.Date, *core.Date) (*gateway.TransactionsResponse, error) {
	return nil, d.err
}

func (d disabledGateway) ListInstitutions(context.Context, string) ([]gateway.Institution, error) {
	return nil, d.err
}
