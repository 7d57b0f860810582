// Package sde reads EVE static data (stations, solar systems, regions,
// item types) from a local SQLite export of the SDE.
package sde

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested identifier is absent from the SDE.
var ErrNotFound = errors.New("sde: not found")

// Station is a row from staStations.
type Station struct {
	StationID     int64
	Name          string
	SolarSystemID int32
	RegionID      int32
}

// SolarSystem is a row from mapSolarSystems.
type SolarSystem struct {
	SolarSystemID int32
	Name          string
	RegionID      int32
	Security      float64
}

// ItemType is a row from invTypes.
type ItemType struct {
	TypeID  int32
	Name    string
	GroupID int32
}

// Service answers static-data lookups against the SDE database.
type Service interface {
	GetStation(ctx context.Context, stationID int64) (*Station, error)
	GetSolarSystem(ctx context.Context, solarSystemID int32) (*SolarSystem, error)
	GetRegionName(ctx context.Context, regionID int32) (string, error)
	GetType(ctx context.Context, typeID int32) (*ItemType, error)
	Close() error
}

type service struct {
	db *sql.DB
}

// Open opens the SDE database at path, read-only in practice since the SDE
// is a static export.
func Open(path string) (Service, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sde database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sde database: %w", err)
	}
	slog.Info("Opened SDE database", "path", path)
	return &service{db: db}, nil
}

// NewFromDB wraps an already-open database. Used by tests with in-memory
// fixtures.
func NewFromDB(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) GetStation(ctx context.Context, stationID int64) (*Station, error) {
	var st Station
	err := s.db.QueryRowContext(ctx,
		`SELECT stationID, stationName, solarSystemID, regionID FROM staStations WHERE stationID = ?`,
		stationID,
	).Scan(&st.StationID, &st.Name, &st.SolarSystemID, &st.RegionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query station %d: %w", stationID, err)
	}
	return &st, nil
}

func (s *service) GetSolarSystem(ctx context.Context, solarSystemID int32) (*SolarSystem, error) {
	var sys SolarSystem
	err := s.db.QueryRowContext(ctx,
		`SELECT solarSystemID, solarSystemName, regionID, security FROM mapSolarSystems WHERE solarSystemID = ?`,
		solarSystemID,
	).Scan(&sys.SolarSystemID, &sys.Name, &sys.RegionID, &sys.Security)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query solar system %d: %w", solarSystemID, err)
	}
	return &sys, nil
}

func (s *service) GetRegionName(ctx context.Context, regionID int32) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT regionName FROM mapRegions WHERE regionID = ?`,
		regionID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query region %d: %w", regionID, err)
	}
	return name, nil
}

func (s *service) GetType(ctx context.Context, typeID int32) (*ItemType, error) {
	var it ItemType
	err := s.db.QueryRowContext(ctx,
		`SELECT typeID, typeName, groupID FROM invTypes WHERE typeID = ?`,
		typeID,
	).Scan(&it.TypeID, &it.Name, &it.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query type %d: %w", typeID, err)
	}
	return &it, nil
}

func (s *service) Close() error {
	return s.db.Close()
}
