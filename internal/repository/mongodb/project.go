package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/teamify/internal/apperror"
	"github.com/sakif/teamify/internal/model"
	"github.com/sakif/teamify/internal/repository"
)

// projectDoc is what is stored. ApplicantCount is derived on read, so the
// stored document never carries it.
type projectDoc struct {
	ID             string       `bson:"_id"`
	Name           string       `bson:"name"`
	Description    string       `bson:"description"`
	Technologies   []string     `bson:"technologies"`
	CreatorID      string       `bson:"creator_id"`
	StartDate      time.Time    `bson:"start_date"`
	EndDate        time.Time    `bson:"end_date"`
	PeopleRequired int          `bson:"people_required"`
	Status         model.Status `bson:"status"`
	IsEnabled      bool         `bson:"is_enabled"`
	CreatedAt      time.Time    `bson:"created_at"`
	UpdatedAt      time.Time    `bson:"updated_at"`
}

func toProjectDoc(p *model.Project) projectDoc {
	techs := p.Technologies
	if techs == nil {
		techs = []string{}
	}
	return projectDoc{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Technologies:   techs,
		CreatorID:      p.CreatorID,
		StartDate:      p.StartDate.UTC(),
		EndDate:        p.EndDate.UTC(),
		PeopleRequired: p.PeopleRequired,
		Status:         p.Status,
		IsEnabled:      p.IsEnabled,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	if _, err := s.GetUserByID(ctx, project.CreatorID); err != nil {
		return err
	}

	now := time.Now().UTC()
	project.ID = xid.New().String()
	project.CreatedAt = now
	project.UpdatedAt = now

	if _, err := s.col(colProjects).InsertOne(ctx, toProjectDoc(project)); err != nil {
		return fmt.Errorf("mongo: creating project: %w", err)
	}
	return nil
}

func (s *Store) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.col(colProjects).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&p)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("project", id)
		}
		return nil, fmt.Errorf("mongo: getting project %s: %w", id, err)
	}

	n, err := s.CountMembers(ctx, id, model.RoleApplicant)
	if err != nil {
		return nil, err
	}
	p.ApplicantCount = n
	return &p, nil
}

func (s *Store) UpdateProjectDetails(ctx context.Context, project *model.Project) error {
	project.UpdatedAt = time.Now().UTC()
	doc := toProjectDoc(project)

	result, err := s.col(colProjects).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: project.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: doc.Name},
			{Key: "description", Value: doc.Description},
			{Key: "technologies", Value: doc.Technologies},
			{Key: "start_date", Value: doc.StartDate},
			{Key: "end_date", Value: doc.EndDate},
			{Key: "people_required", Value: doc.PeopleRequired},
			{Key: "updated_at", Value: doc.UpdatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating project %s: %w", project.ID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("project", project.ID)
	}
	return nil
}

// UpdateProjectStatus only matches a document still in `from`, so
// concurrent transitions cannot both land.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, from, to model.Status) error {
	result, err := s.col(colProjects).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "status", Value: from}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: to},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: updating status of project %s: %w", id, err)
	}
	if result.MatchedCount > 0 {
		return nil
	}
	if _, err := s.GetProjectByID(ctx, id); err != nil {
		return err
	}
	return apperror.Conflictf("project %s is no longer %s", id, from)
}

func (s *Store) SetProjectEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.col(colProjects).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_enabled", Value: enabled},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: toggling project %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("project", id)
	}
	return nil
}

// DeleteProject removes the project and then everything hanging off it.
// Notifications are kept but lose their project reference.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.col(colProjects).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("mongo: deleting project %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("project", id)
	}

	byProject := bson.D{{Key: "project_id", Value: id}}
	if _, err := s.col(colMemberships).DeleteMany(ctx, byProject); err != nil {
		return fmt.Errorf("mongo: deleting memberships of %s: %w", id, err)
	}
	if _, err := s.col(colRatings).DeleteMany(ctx, byProject); err != nil {
		return fmt.Errorf("mongo: deleting ratings of %s: %w", id, err)
	}
	_, err = s.col(colNotifications).UpdateMany(ctx,
		bson.D{{Key: "related_project_id", Value: id}},
		bson.D{{Key: "$unset", Value: bson.D{{Key: "related_project_id", Value: ""}}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: detaching notifications of %s: %w", id, err)
	}
	return nil
}

// ListProjects runs the listing as one aggregation: filter, join the
// memberships to exclude the viewer and count applicants, sort, page.
func (s *Store) ListProjects(ctx context.Context, q repository.ProjectQuery) ([]model.Project, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = repository.ProjectPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	match := bson.D{{Key: "is_enabled", Value: true}}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := bson.Regex{Pattern: regexp.QuoteMeta(search), Options: "i"}
		match = append(match, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: pattern}},
			bson.D{{Key: "description", Value: pattern}},
		}})
	}
	if len(q.Technologies) > 0 {
		match = append(match, bson.E{Key: "technologies", Value: bson.D{{Key: "$in", Value: q.Technologies}}})
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: colMemberships},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "project_id"},
			{Key: "as", Value: "members"},
		}}},
	}
	if q.ViewerID != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "members.user_id", Value: bson.D{{Key: "$ne", Value: q.ViewerID}}},
		}}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$addFields", Value: bson.D{
			{Key: "applicant_count", Value: bson.D{{Key: "$size", Value: bson.D{
				{Key: "$filter", Value: bson.D{
					{Key: "input", Value: "$members"},
					{Key: "cond", Value: bson.D{{Key: "$eq", Value: bson.A{"$$this.role", string(model.RoleApplicant)}}}},
				}},
			}}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: "members", Value: 0}}}},
		bson.D{{Key: "$sort", Value: projectSort(q.Sort)}},
		bson.D{{Key: "$skip", Value: int64(offset)}},
		bson.D{{Key: "$limit", Value: int64(limit)}},
	)

	cur, err := s.col(colProjects).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing projects: %w", err)
	}
	projects := make([]model.Project, 0, limit)
	if err := cur.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("mongo: decoding projects: %w", err)
	}
	return projects, nil
}

func projectSort(order model.SortOrder) bson.D {
	switch order {
	case model.SortOldest:
		return bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
	case model.SortApplicants:
		return bson.D{{Key: "applicant_count", Value: -1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	default:
		return bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	}
}

func (s *Store) ListProjectsByCreator(ctx context.Context, creatorID string) ([]model.Project, error) {
	cur, err := s.col(colProjects).Find(ctx,
		bson.D{{Key: "creator_id", Value: creatorID}},
		options.Find().SetSort(projectSort(model.SortRecent)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing projects of %s: %w", creatorID, err)
	}
	projects := []model.Project{}
	if err := cur.All(ctx, &projects); err != nil {
		return nil, fmt.Errorf("mongo: decoding projects: %w", err)
	}
	for i := range projects {
		n, err := s.CountMembers(ctx, projects[i].ID, model.RoleApplicant)
		if err != nil {
			return nil, err
		}
		projects[i].ApplicantCount = n
	}
	return projects, nil
}
