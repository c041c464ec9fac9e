package workers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studentquery/internal/database"

	"github.com/patrickmn/go-cache"
)

// StudentDataFetcher returns the student's profile row
type StudentDataFetcher struct {
	db *database.DB
}

func NewStudentDataFetcher(db *database.DB) *StudentDataFetcher {
	return &StudentDataFetcher{db: db}
}

func (f *StudentDataFetcher) Name() string { return "GetStudentData" }

func (f *StudentDataFetcher) Fetch(ctx context.Context, userID string, _ map[string]interface{}) (interface{}, error) {
	row := f.db.QueryRowContext(ctx, `
		SELECT student_id, first_name, last_name, email, admission_term, standing
		FROM students
		WHERE student_id = ?`, userID)

	var profile struct {
		StudentID     string `json:"studentId"`
		FirstName     string `json:"firstName"`
		LastName      string `json:"lastName"`
		Email         string `json:"email"`
		AdmissionTerm string `json:"admissionTerm"`
		Standing      string `json:"standing"`
	}
	err := row.Scan(&profile.StudentID, &profile.FirstName, &profile.LastName,
		&profile.Email, &profile.AdmissionTerm, &profile.Standing)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no student record found for %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch student data: %w", err)
	}
	return profile, nil
}

// StudentCoursesFetcher returns the full course history with grades
type StudentCoursesFetcher struct {
	db *database.DB
}

func NewStudentCoursesFetcher(db *database.DB) *StudentCoursesFetcher {
	return &StudentCoursesFetcher{db: db}
}

func (f *StudentCoursesFetcher) Name() string { return "GetStudentCourses" }

type courseRecord struct {
	CourseCode string  `json:"courseCode"`
	Title      string  `json:"title"`
	Term       string  `json:"term"`
	Credits    float64 `json:"credits"`
	Grade      string  `json:"grade"`
}

func (f *StudentCoursesFetcher) Fetch(ctx context.Context, userID string, _ map[string]interface{}) (interface{}, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT c.course_code, c.title, e.term, c.credits, COALESCE(e.grade, '')
		FROM enrollments e
		JOIN courses c ON c.course_id = e.course_id
		WHERE e.student_id = ?
		ORDER BY e.term DESC, c.course_code`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch courses: %w", err)
	}
	defer rows.Close()

	var courses []courseRecord
	for rows.Next() {
		var c courseRecord
		if err := rows.Scan(&c.CourseCode, &c.Title, &c.Term, &c.Credits, &c.Grade); err != nil {
			return nil, fmt.Errorf("failed to scan course row: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read course rows: %w", err)
	}
	return courses, nil
}

// CurrentDegreeFetcher returns the student's active degree program and GPA
type CurrentDegreeFetcher struct {
	db *database.DB
}

func NewCurrentDegreeFetcher(db *database.DB) *CurrentDegreeFetcher {
	return &CurrentDegreeFetcher{db: db}
}

func (f *CurrentDegreeFetcher) Name() string { return "GetStudentCurrentDegree" }

func (f *CurrentDegreeFetcher) Fetch(ctx context.Context, userID string, _ map[string]interface{}) (interface{}, error) {
	row := f.db.QueryRowContext(ctx, `
		SELECT d.program_id, p.program_name, p.degree_level, d.declared_term,
		       d.gpa, d.credits_earned
		FROM degrees d
		JOIN programs p ON p.program_id = d.program_id
		WHERE d.student_id = ? AND d.status = 'active'
		ORDER BY d.declared_term DESC
		LIMIT 1`, userID)

	var degree struct {
		ProgramID     string  `json:"programId"`
		ProgramName   string  `json:"programName"`
		DegreeLevel   string  `json:"degreeLevel"`
		DeclaredTerm  string  `json:"declaredTerm"`
		GPA           float64 `json:"gpa"`
		CreditsEarned float64 `json:"creditsEarned"`
	}
	err := row.Scan(&degree.ProgramID, &degree.ProgramName, &degree.DegreeLevel,
		&degree.DeclaredTerm, &degree.GPA, &degree.CreditsEarned)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active degree found for %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current degree: %w", err)
	}
	return degree, nil
}

// ProgramDetailsFetcher returns program requirements. Program curricula
// change rarely, so results are cached.
type ProgramDetailsFetcher struct {
	db    *database.DB
	cache *cache.Cache
}

func NewProgramDetailsFetcher(db *database.DB, cacheTTL time.Duration) *ProgramDetailsFetcher {
	if cacheTTL <= 0 {
		cacheTTL = 1 * time.Hour
	}
	return &ProgramDetailsFetcher{
		db:    db,
		cache: cache.New(cacheTTL, 10*time.Minute),
	}
}

func (f *ProgramDetailsFetcher) Name() string { return "GetProgramDetails" }

type programDetails struct {
	ProgramID       string              `json:"programId"`
	ProgramName     string              `json:"programName"`
	DegreeLevel     string              `json:"degreeLevel"`
	TotalCredits    float64             `json:"totalCredits"`
	RequiredCourses []requirementRecord `json:"requiredCourses"`
}

type requirementRecord struct {
	CourseCode string  `json:"courseCode"`
	Title      string  `json:"title"`
	Credits    float64 `json:"credits"`
	Category   string  `json:"category"`
}

func (f *ProgramDetailsFetcher) Fetch(ctx context.Context, userID string, params map[string]interface{}) (interface{}, error) {
	programID, _ := params["programId"].(string)
	if programID == "" {
		// Fall back to the student's active program
		row := f.db.QueryRowContext(ctx, `
			SELECT program_id FROM degrees
			WHERE student_id = ? AND status = 'active'
			ORDER BY declared_term DESC LIMIT 1`, userID)
		if err := row.Scan(&programID); err != nil {
			return nil, fmt.Errorf("no program id given and none could be resolved: %w", err)
		}
	}

	if cached, ok := f.cache.Get(programID); ok {
		return cached, nil
	}

	row := f.db.QueryRowContext(ctx, `
		SELECT program_id, program_name, degree_level, total_credits
		FROM programs WHERE program_id = ?`, programID)

	var details programDetails
	err := row.Scan(&details.ProgramID, &details.ProgramName,
		&details.DegreeLevel, &details.TotalCredits)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("program %s not found", programID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch program: %w", err)
	}

	rows, err := f.db.QueryContext(ctx, `
		SELECT c.course_code, c.title, c.credits, r.category
		FROM program_requirements r
		JOIN courses c ON c.course_id = r.course_id
		WHERE r.program_id = ?
		ORDER BY r.category, c.course_code`, programID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch program requirements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var req requirementRecord
		if err := rows.Scan(&req.CourseCode, &req.Title, &req.Credits, &req.Category); err != nil {
			return nil, fmt.Errorf("failed to scan requirement row: %w", err)
		}
		details.RequiredCourses = append(details.RequiredCourses, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requirement rows: %w", err)
	}

	f.cache.Set(programID, details, cache.DefaultExpiration)
	return details, nil
}

// EnrollmentStatusFetcher returns current term enrollment and holds
type EnrollmentStatusFetcher struct {
	db *database.DB
}

func NewEnrollmentStatusFetcher(db *database.DB) *EnrollmentStatusFetcher {
	return &EnrollmentStatusFetcher{db: db}
}

func (f *EnrollmentStatusFetcher) Name() string { return "GetEnrollmentStatus" }

func (f *EnrollmentStatusFetcher) Fetch(ctx context.Context, userID string, _ map[string]interface{}) (interface{}, error) {
	row := f.db.QueryRowContext(ctx, `
		SELECT term, status, credit_load, registration_hold
		FROM enrollment_status
		WHERE student_id = ? AND current = 1`, userID)

	var status struct {
		Term             string  `json:"term"`
		Status           string  `json:"status"`
		CreditLoad       float64 `json:"creditLoad"`
		RegistrationHold bool    `json:"registrationHold"`
	}
	err := row.Scan(&status.Term, &status.Status, &status.CreditLoad, &status.RegistrationHold)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active enrollment found for %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch enrollment status: %w", err)
	}
	return status, nil
}

// RegisterAll wires every fetcher into the registry
func RegisterAll(registry *Registry, db *database.DB, cfg *Config) {
	programCacheTTL := time.Duration(0)
	if sc, ok := cfg.Sources["GetProgramDetails"]; ok {
		programCacheTTL = sc.CacheTTL
	}

	registry.Register(NewStudentDataFetcher(db))
	registry.Register(NewStudentCoursesFetcher(db))
	registry.Register(NewCurrentDegreeFetcher(db))
	registry.Register(NewProgramDetailsFetcher(db, programCacheTTL))
	registry.Register(NewEnrollmentStatusFetcher(db))
}
