package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_results_run ON interference_results (run_id, margin);
CREATE INDEX IF NOT EXISTS idx_results_victim ON interference_results (rx_call_sign, rx_antenna)`

	insertRunSQL = `
INSERT INTO runs (id,
                  started_at,
                  status,
                  params)
VALUES (?, ?, ?, ?)`

	finishRunSQL = `
UPDATE runs
SET finished_at = ?,
    status      = ?,
    results     = ?,
    flagged     = ?,
    error       = ?
WHERE id = ?`

	selectRunSQL = `
SELECT id,
       started_at,
       finished_at,
       status,
       params,
       results,
       flagged,
       error
FROM runs
WHERE id = ?`

	selectRunsSQL = `
SELECT id,
       started_at,
       finished_at,
       status,
       params,
       results,
       flagged,
       error
FROM runs
ORDER BY started_at`

	insertResultSQL = `
INSERT INTO interference_results (run_id,
                                  direction,
                                  tx_call_sign,
                                  tx_remote_call_sign,
                                  tx_band,
                                  tx_antenna,
                                  tx_channel,
                                  tx_off_axis,
                                  tx_discrimination,
                                  rx_call_sign,
                                  rx_remote_call_sign,
                                  rx_band,
                                  rx_antenna,
                                  rx_channel,
                                  rx_off_axis,
                                  rx_discrimination,
                                  distance_km,
                                  tx_frequency,
                                  rx_frequency,
                                  frequency_separation,
                                  path_loss,
                                  path_loss_80,
                                  path_loss_99,
                                  calculated_ci,
                                  required_ci,
                                  margin,
                                  margin_80,
                                  margin_99,
                                  status)
VALUES `

	resultValuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	resultColumns           = 29

	selectResultsSQL = `
SELECT direction,
       tx_call_sign,
       tx_remote_call_sign,
       tx_band,
       tx_antenna,
       tx_channel,
       tx_off_axis,
       tx_discrimination,
       rx_call_sign,
       rx_remote_call_sign,
       rx_band,
       rx_antenna,
       rx_channel,
       rx_off_axis,
       rx_discrimination,
       distance_km,
       tx_frequency,
       rx_frequency,
       frequency_separation,
       path_loss,
       path_loss_80,
       path_loss_99,
       calculated_ci,
       required_ci,
       margin,
       margin_80,
       margin_99,
       status
FROM interference_results
WHERE run_id = ?
  AND (? = 0 OR margin < 0)
ORDER BY id`

	selectSiteSummariesSQL = `
SELECT s.call_sign,
       s.latitude,
       s.longitude,
       s.operator,
       s.region,
       (SELECT group_concat(DISTINCT a.band)
        FROM antennas a
        WHERE a.universe = s.universe
          AND a.call_sign = s.call_sign
          AND a.band <> '') AS bands
FROM sites s
WHERE s.universe = ?
  AND s.deleted = 0
  AND s.latitude BETWEEN ? AND ?
  AND s.longitude BETWEEN ? AND ?
ORDER BY s.call_sign`

	selectSiteSQL = `
SELECT call_sign,
       latitude,
       longitude,
       ground_elevation,
       operator,
       region,
       deleted
FROM sites
WHERE universe = ?
  AND call_sign = ?`

	selectAntennasSQL = `
SELECT number,
       remote_call_sign,
       band,
       pattern_code,
       gain,
       azimuth,
       elevation,
       target_azimuth,
       target_elevation,
       height
FROM antennas
WHERE universe = ?
  AND call_sign = ?
ORDER BY number`

	selectChannelsSQL = `
SELECT antenna_number,
       number,
       tx_frequency,
       rx_frequency,
       tx_power,
       rx_signal_level,
       polarization,
       traffic_code,
       equipment_code
FROM channels
WHERE universe = ?
  AND call_sign = ?
ORDER BY antenna_number, number`

	upsertSiteSQL = `
INSERT OR REPLACE INTO sites (universe,
                              call_sign,
                              latitude,
                              longitude,
                              ground_elevation,
                              operator,
                              region,
                              deleted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	deleteAntennasSQL = `DELETE FROM antennas WHERE universe = ? AND call_sign = ?`
	deleteChannelsSQL = `DELETE FROM channels WHERE universe = ? AND call_sign = ?`

	insertAntennaSQL = `
INSERT INTO antennas (universe,
                      call_sign,
                      number,
                      remote_call_sign,
                      band,
                      pattern_code,
                      gain,
                      azimuth,
                      elevation,
                      target_azimuth,
                      target_elevation,
                      height)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertChannelSQL = `
INSERT INTO channels (universe,
                      call_sign,
                      antenna_number,
                      number,
                      tx_frequency,
                      rx_frequency,
                      tx_power,
                      rx_signal_level,
                      polarization,
                      traffic_code,
                      equipment_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectPatternSQL = `SELECT domain FROM antenna_patterns WHERE code = ?`

	selectPatternPointsSQL = `
SELECT polarization,
       angle,
       co_polar,
       cross_polar
FROM antenna_pattern_points
WHERE code = ?
ORDER BY polarization, angle`

	upsertPatternSQL       = `INSERT OR REPLACE INTO antenna_patterns (code, domain) VALUES (?, ?)`
	deletePatternPointsSQL = `DELETE FROM antenna_pattern_points WHERE code = ?`
	insertPatternPointSQL  = `
INSERT INTO antenna_pattern_points (code,
                                    polarization,
                                    angle,
                                    co_polar,
                                    cross_polar)
VALUES (?, ?, ?, ?, ?)`

	selectCriteriaSQL = `
SELECT c.required_ci,
       EXISTS (SELECT 1
               FROM protection_criteria_curves k
               WHERE k.tx_traffic = c.tx_traffic
                 AND k.rx_traffic = c.rx_traffic
                 AND k.rx_equipment = c.rx_equipment) AS has_curve
FROM protection_criteria c
WHERE c.tx_traffic = ?
  AND c.rx_traffic = ?
  AND c.rx_equipment = ?`

	selectCriteriaCurveSQL = `
SELECT frequency_separation,
       required_ci
FROM protection_criteria_curves
WHERE tx_traffic = ?
  AND rx_traffic = ?
  AND rx_equipment = ?
ORDER BY frequency_separation`

	upsertCriteriaSQL = `
INSERT OR REPLACE INTO protection_criteria (tx_traffic,
                                            rx_traffic,
                                            rx_equipment,
                                            required_ci)
VALUES (?, ?, ?, ?)`

	deleteCriteriaCurveSQL = `
DELETE
FROM protection_criteria_curves
WHERE tx_traffic = ?
  AND rx_traffic = ?
  AND rx_equipment = ?`

	insertCriteriaCurveSQL = `
INSERT INTO protection_criteria_curves (tx_traffic,
                                        rx_traffic,
                                        rx_equipment,
                                        frequency_separation,
                                        required_ci)
VALUES (?, ?, ?, ?, ?)`
)
