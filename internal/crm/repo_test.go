package crm

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadColumns() []string {
	return []string{"id", "tenant_code", "first_name", "last_name", "email", "phone", "pipeline_id",
		"stage_id", "status", "deal_value", "source", "assigned_to", "tags", "metadata", "score",
		"last_contacted_at", "converted_at", "is_archived", "created_at", "updated_at"}
}

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(db), mock
}

func TestGetLeadByPhoneFiltersOnTenantCode(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM leads").
		WithArgs("ACME", "919000000000", "p1").
		WillReturnRows(sqlmock.NewRows(leadColumns()).
			AddRow("l1", "ACME", "Ada", "Lovelace", "ada@example.com", "919000000000", "p1", "s1", "open",
				1500.0, "website", "", "{}", `{"refs":{},"extra":{"plan":"pro"}}`, `{"total":72}`,
				nil, nil, false, now, now))

	lead, err := repo.GetLeadByPhone(context.Background(), "ACME", "p1", "919000000000")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "ACME", lead.TenantCode)
	assert.Equal(t, "pro", lead.Metadata.Extra["plan"])
	assert.Equal(t, 72.0, lead.Score.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLeadByPhoneReturnsNilWhenAbsent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM leads").
		WithArgs("ACME", "919000000000", "p1").
		WillReturnRows(sqlmock.NewRows(leadColumns()))

	lead, err := repo.GetLeadByPhone(context.Background(), "ACME", "p1", "919000000000")
	require.NoError(t, err)
	assert.Nil(t, lead)
}

func TestCreateLeadDefaultsStatusOpen(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO leads").
		WillReturnResult(sqlmock.NewResult(0, 1))

	lead := &Lead{TenantCode: "ACME", Phone: "919000000000", PipelineID: "p1"}
	require.NoError(t, repo.CreateLead(context.Background(), lead))
	assert.Equal(t, LeadOpen, lead.Status)
	assert.NotEmpty(t, lead.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConversationCreatesWhenMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("ACME", "919000000000").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_code", "phone", "lead_id", "created_at", "updated_at"}))
	mock.ExpectExec("INSERT INTO conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := repo.EnsureConversation(context.Background(), "ACME", "919000000000", "l1")
	require.NoError(t, err)
	assert.Equal(t, "ACME", conv.TenantCode)
	assert.Equal(t, "l1", conv.LeadID)
	assert.NotEmpty(t, conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConversationReturnsExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("ACME", "919000000000").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_code", "phone", "lead_id", "created_at", "updated_at"}).
			AddRow("c1", "ACME", "919000000000", "l1", now, now))

	conv, err := repo.EnsureConversation(context.Background(), "ACME", "919000000000", "l1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadTagSetSemantics(t *testing.T) {
	lead := &Lead{}
	assert.True(t, lead.AddTag("vip"))
	assert.False(t, lead.AddTag("vip"))
	assert.Equal(t, []string{"vip"}, lead.Tags)

	assert.True(t, lead.RemoveTag("vip"))
	assert.False(t, lead.RemoveTag("vip"))
	assert.Empty(t, lead.Tags)
}
