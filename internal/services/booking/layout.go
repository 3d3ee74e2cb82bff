package booking

import (
	"strconv"

	"bus-backend/internal/models"
)

const seatsPerRow = 4

var seatLetters = [seatsPerRow]string{"A", "B", "C", "D"}

// GenerateLayout нумерует места рядами по четыре: 1A,1B,1C,1D,2A...
// Неполный последний ряд заполняется слева направо.
func GenerateLayout(seatsTotal int) []string {
	if seatsTotal <= 0 {
		return []string{}
	}
	seats := make([]string, 0, seatsTotal)
	for i := 0; i < seatsTotal; i++ {
		row := i/seatsPerRow + 1
		seats = append(seats, strconv.Itoa(row)+seatLetters[i%seatsPerRow])
	}
	return seats
}

// SeatMap схема мест для клиента
type SeatMap struct {
	Rows  [][]string `json:"rows"`
	Flat  []string   `json:"flat"`
	Taken []string   `json:"taken"`
}

func BuildSeatMap(seatsTotal int, assignments []models.SeatAssignment) SeatMap {
	flat := GenerateLayout(seatsTotal)
	rows := make([][]string, 0, (len(flat)+seatsPerRow-1)/seatsPerRow)
	for i := 0; i < len(flat); i += seatsPerRow {
		end := i + seatsPerRow
		if end > len(flat) {
			end = len(flat)
		}
		rows = append(rows, flat[i:end])
	}

	taken := make([]string, 0, len(assignments))
	for _, a := range assignments {
		taken = append(taken, a.SeatNumber)
	}
	return SeatMap{Rows: rows, Flat: flat, Taken: taken}
}

func inLayout(seatsTotal int, seat string) bool {
	for _, s := range GenerateLayout(seatsTotal) {
		if s == seat {
			return true
		}
	}
	return false
}
