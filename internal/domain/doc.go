// Package domain models NOAA Storm Events "details" data and the datasets
// built from it.
//
// # Data Source
//
// The National Centers for Environmental Information (NCEI) publishes the
// Storm Events Database as yearly gzip-compressed CSV files under
// https://www.ncei.noaa.gov/pub/data/swdi/stormevents/csvfiles/. The index
// page lists three file families per year (details, fatalities, locations);
// only the details family carries the event classifier and track coordinates.
//
//	StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz
//	                               ^^^^^ data year  ^^^^^^^^ compilation date
//
// # Column Conventions
//
// Each details row describes one event. The columns this package relies on:
//
//	EVENT_TYPE         classifier, e.g. "Tornado", "Hail", "Thunderstorm Wind".
//	                   Matching is exact and case-sensitive.
//	EVENT_ID           numeric identifier, unique across the database.
//	BEGIN_LAT/LON      WGS-84 start of the event track. Required.
//	END_LAT/LON        end of the track. Blank for point events and for many
//	                   older records; kept as absent (nil), never as 0.
//	TOR_F_SCALE        "F0".."F5" before 2007, "EF0".."EF5" after, "EFU" unknown.
//	DAMAGE_PROPERTY    abbreviated amounts ("10.00K", "1.5M"), kept verbatim.
//
// Older yearly files omit some columns entirely. A missing optional column is
// absent for every row of that file; a missing essential column makes the
// whole file unusable.
package domain
