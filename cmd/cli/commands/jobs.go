package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/types"
)

// jobOutput represents the filtered output for a job
type jobOutput struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Parents  int    `json:"parents_created"`
	Children int    `json:"children_created"`
}

// jobListOutput represents the filtered output for a list of jobs
type jobListOutput struct {
	Jobs []jobOutput `json:"jobs"`
}

func init() {
	jobsCmd.AddCommand(createJobCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(runJobCmd)
	jobsCmd.AddCommand(rollbackJobCmd)

	createJobCmd.Flags().StringP("name", "n", "", "Job name, seeds the entity labels")
	createJobCmd.Flags().StringP("account", "a", "", "Target remote ad account ID")
	createJobCmd.Flags().IntP("children", "c", 0, "Number of ad pairs to create")
	createJobCmd.Flags().StringP("key", "k", "", "Idempotency key")
	_ = createJobCmd.MarkFlagRequired("name")
	_ = createJobCmd.MarkFlagRequired("account")
	_ = createJobCmd.MarkFlagRequired("children")

	getJobCmd.Flags().UintP("id", "i", 0, "Job ID to fetch")
	_ = getJobCmd.MarkFlagRequired("id")

	listJobsCmd.Flags().IntP("limit", "l", 0, "Limit the number of jobs returned")
	listJobsCmd.Flags().StringP("status", "s", "", "Filter jobs by status")

	runJobCmd.Flags().UintP("id", "i", 0, "Job ID to run")
	runJobCmd.Flags().BoolP("bulk", "b", false, "Use bulk batching with quality fallback")
	_ = runJobCmd.MarkFlagRequired("id")

	rollbackJobCmd.Flags().UintP("id", "i", 0, "Job ID to roll back")
	rollbackJobCmd.Flags().StringP("reason", "r", "", "Reason recorded on the job")
	_ = rollbackJobCmd.MarkFlagRequired("id")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage bulk creation jobs",
}

var createJobCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new bulk creation job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		account, _ := cmd.Flags().GetString("account")
		children, _ := cmd.Flags().GetInt("children")
		key, _ := cmd.Flags().GetString("key")

		job, err := getAPIClient(cmd).CreateJob(context.Background(), types.CreateJobRequest{
			Name:           name,
			AccountID:      account,
			ChildCount:     children,
			IdempotencyKey: key,
		})
		if err != nil {
			return fmt.Errorf("error creating job: %w", err)
		}
		return printJSON(jobOutput{
			ID:       job.ID,
			Name:     job.Name,
			Status:   job.Status.String(),
			Parents:  job.ParentsCreated,
			Children: job.ChildrenCreated,
		})
	},
}

var getJobCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a job with its slot ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetUint("id")

		progress, err := getAPIClient(cmd).GetJob(context.Background(), jobID)
		if err != nil {
			return fmt.Errorf("error fetching job: %w", err)
		}
		return printJSON(progress)
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		opts := &models.ListOptions{Limit: limit}
		if status != "" {
			jobStatus, err := models.ParseJobStatus(status)
			if err != nil {
				return fmt.Errorf("invalid status value: %w", err)
			}
			opts.JobStatus = &jobStatus
		}

		jobs, err := getAPIClient(cmd).ListJobs(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}

		output := jobListOutput{Jobs: make([]jobOutput, len(jobs))}
		for i, job := range jobs {
			output.Jobs[i] = jobOutput{
				ID:       job.ID,
				Name:     job.Name,
				Status:   job.Status.String(),
				Parents:  job.ParentsCreated,
				Children: job.ChildrenCreated,
			}
		}
		return printJSON(output)
	},
}

var runJobCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a creation run for a job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetUint("id")
		bulk, _ := cmd.Flags().GetBool("bulk")

		run, err := getAPIClient(cmd).RunJob(context.Background(), jobID, types.RunJobRequest{Bulk: bulk})
		if err != nil {
			return fmt.Errorf("error running job: %w", err)
		}
		return printJSON(run)
	},
}

var rollbackJobCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Delete everything a job created",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobID, _ := cmd.Flags().GetUint("id")
		reason, _ := cmd.Flags().GetString("reason")

		result, err := getAPIClient(cmd).RollbackJob(context.Background(), jobID, types.RollbackJobRequest{Reason: reason})
		if err != nil {
			return fmt.Errorf("error rolling back job: %w", err)
		}
		return printJSON(result)
	},
}

// GetJobsCmd returns the jobs command
func GetJobsCmd() *cobra.Command {
	return jobsCmd
}

func printJSON(v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Println(string(prettyJSON))
	return nil
}
