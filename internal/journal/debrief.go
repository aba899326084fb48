package journal

import "time"

// DebriefColumns is the fixed debriefing journal header.
var DebriefColumns = []string{"Date", "Rotation_ID", "Difficulte_Rencontree", "Lecon_Apprise"}

// Debrief is the operator's free-text review of a rotation.
type Debrief struct {
	Date       time.Time
	RotationID string
	Difficulty string
	Lesson     string
}

// DebriefLog is the append-only debriefing journal.
type DebriefLog struct {
	file *csvFile
}

// NewDebriefLog opens the debriefing journal at path.
func NewDebriefLog(path string, opts ...Option) *DebriefLog {
	return &DebriefLog{file: newCSVFile(path, DebriefColumns, opts)}
}

// Append writes one debrief row. Empty fields stay empty so the operator
// can fill them in later.
func (l *DebriefLog) Append(d Debrief) error {
	return l.file.appendRow([]string{
		d.Date.Format("2006-01-02"),
		d.RotationID,
		d.Difficulty,
		d.Lesson,
	})
}

// Entries returns every debrief row in file order.
func (l *DebriefLog) Entries() ([]Debrief, error) {
	rows, err := l.file.records()
	if err != nil {
		return nil, err
	}
	out := make([]Debrief, 0, len(rows))
	for _, row := range rows {
		out = append(out, Debrief{
			Date:       parseDate(row["Date"]),
			RotationID: row["Rotation_ID"],
			Difficulty: row["Difficulte_Rencontree"],
			Lesson:     row["Lecon_Apprise"],
		})
	}
	return out, nil
}

// SetLesson records the lesson learned on every row of the rotation. It
// returns false when the rotation has no debrief row.
func (l *DebriefLog) SetLesson(rotationID, lesson string) (bool, error) {
	n, err := l.file.update(func(row map[string]string) bool {
		if row["Rotation_ID"] != rotationID {
			return false
		}
		row["Lecon_Apprise"] = lesson
		return true
	})
	return n > 0, err
}
