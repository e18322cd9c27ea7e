package storage

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/sos-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveCase(c *models.SOSCase) error {
	_, err := p.db.Exec(`INSERT INTO sos_cases(id, requester_id, lat, lng, priority, state, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.RequesterID, c.Location.Lat, c.Location.Lng, c.Priority, string(c.State), c.CreatedAt, c.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateCase(c *models.SOSCase) error {
	_, err := p.db.Exec(`UPDATE sos_cases SET state=$1, updated_at=$2 WHERE id=$3`,
		string(c.State), c.UpdatedAt, c.ID)
	return err
}

func (p *PostgresStore) SaveAssignment(a *models.Assignment) error {
	_, err := p.db.Exec(`INSERT INTO assignments(id, case_id, responder_id, state, assigned_at, distance_km, eta_minutes) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.CaseID, a.ResponderID, string(a.State), a.AssignedAt, a.DistanceKm, a.ETAMinutes)
	return err
}

func (p *PostgresStore) UpdateAssignment(a *models.Assignment) error {
	_, err := p.db.Exec(`UPDATE assignments SET state=$1, responded_at=$2, arrived_at=$3, completed_at=$4 WHERE id=$5`,
		string(a.State), a.RespondedAt, a.ArrivedAt, a.CompletedAt, a.ID)
	return err
}

func (p *PostgresStore) AppendEvent(ev *models.CaseEvent) error {
	var assignmentID sql.NullString
	if ev.Assignment != nil {
		assignmentID = sql.NullString{String: ev.Assignment.ID, Valid: true}
	}
	_, err := p.db.Exec(`INSERT INTO case_events(case_id, seq, from_state, to_state, ts, assignment_id) VALUES($1,$2,$3,$4,$5,$6)`,
		ev.CaseID, ev.Seq, string(ev.FromState), string(ev.ToState), ev.Timestamp, assignmentID)
	return err
}
