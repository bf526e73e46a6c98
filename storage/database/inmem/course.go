package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) InsertCourse(ctx context.Context, c course.Course) (course.Course, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, existing := range t.courses {
			if existing.Code == c.Code {
				return course.ErrCodeTaken
			}
			if existing.Name == c.Name {
				return course.ErrNameTaken
			}
		}
		t.courseSeq++
		c.ID = t.courseSeq
		t.courses[c.ID] = c
		return nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id int64) (course.Course, error) {
	var c course.Course
	err := repo.db.read(ctx, func(t *tables) error {
		var ok bool
		if c, ok = t.courses[id]; !ok {
			return course.ErrNotFound
		}
		return nil
	})
	return c, err
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter course.QueryFilter) ([]course.Course, error) {
	search := strings.ToLower(filter.Search)
	var courses []course.Course
	err := repo.db.read(ctx, func(t *tables) error {
		courses = make([]course.Course, 0)
		for _, c := range t.courses {
			if search == "" ||
				strings.Contains(strings.ToLower(c.Code), search) ||
				strings.Contains(strings.ToLower(c.Name), search) {
				courses = append(courses, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	orderings := append(append([]core.DBOrdering(nil), filter.Orderings...), core.DBOrdering{Field: "id", Ascending: true})
	sort.SliceStable(courses, func(i, j int) bool {
		for _, ord := range orderings {
			if c := compareCourses(courses[i], courses[j], ord.Field); c != 0 {
				return (c < 0) == ord.Ascending
			}
		}
		return false
	})
	return courses[:limit(len(courses), filter.Limit)], nil
}

func compareCourses(a, b course.Course, field string) int {
	switch field {
	case "course_code":
		return strings.Compare(a.Code, b.Code)
	case "course_name":
		return strings.Compare(a.Name, b.Name)
	case "created_at":
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		}
		return 0
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
