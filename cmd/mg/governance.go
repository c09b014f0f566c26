package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mossgov/internal/app"
	"mossgov/internal/domain"
	"mossgov/internal/house"
	"mossgov/internal/pipeline"
	"mossgov/internal/voting"
)

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Aliases: []string{"house"}, Short: "Manage house members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	m.AddCommand(memberShowCmd())
	m.AddCommand(memberBalanceCmd())
	m.AddCommand(memberContributionCmd())
	m.AddCommand(memberStatusCmd())
	m.AddCommand(memberRemoveCmd())
	m.AddCommand(memberSweepCmd())
	m.AddCommand(memberPowerCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var reg house.Registration
	var h string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg.House = domain.House(h)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Houses.RegisterMember(ctx, reg)
				if err != nil {
					return err
				}
				return printMembers(m)
			})
		},
	}
	cmd.Flags().StringVar(&h, "house", "", "mosscoin or opensource")
	cmd.Flags().StringVar(&reg.Identity, "identity", "", "wallet address or account handle")
	cmd.Flags().Int64Var(&reg.TokenBalance, "token-balance", 0, "MossCoin token balance")
	cmd.Flags().Int64Var(&reg.ContributionScore, "contribution-score", 0, "OpenSource contribution score")
	cmd.Flags().StringSliceVar(&reg.Roles, "role", nil, "OpenSource role (repeatable)")
	_ = cmd.MarkFlagRequired("house")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func memberListCmd() *cobra.Command {
	var h, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Houses.ListMembers(ctx, domain.MemberFilter{House: domain.House(h), Status: domain.MemberStatus(status)})
				if err != nil {
					return err
				}
				return printMembers(items...)
			})
		},
	}
	cmd.Flags().StringVar(&h, "house", "", "house filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func memberShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Houses.GetMember(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func memberBalanceCmd() *cobra.Command {
	var balance int64
	cmd := &cobra.Command{
		Use:   "balance <member-id>",
		Short: "Set a MossCoin member's token balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Houses.UpdateTokenBalance(ctx, args[0], balance)
				if err != nil {
					return err
				}
				return printMembers(m)
			})
		},
	}
	cmd.Flags().Int64Var(&balance, "token-balance", 0, "new balance")
	_ = cmd.MarkFlagRequired("token-balance")
	return cmd
}

func memberContributionCmd() *cobra.Command {
	var score int64
	var roles []string
	cmd := &cobra.Command{
		Use:   "contribution <member-id>",
		Short: "Set an OpenSource member's contribution score and roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Houses.UpdateContribution(ctx, args[0], score, roles)
				if err != nil {
					return err
				}
				return printMembers(m)
			})
		},
	}
	cmd.Flags().Int64Var(&score, "contribution-score", 0, "new score")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles (repeatable)")
	_ = cmd.MarkFlagRequired("contribution-score")
	return cmd
}

func memberStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <member-id> <active|inactive|suspended>",
		Short: "Change a member's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Houses.SetStatus(ctx, args[0], domain.MemberStatus(args[1]))
				if err != nil {
					return err
				}
				return printMembers(m)
			})
		},
	}
}

func memberRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <member-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Houses.RemoveMember(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}

func memberSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark members inactive after their house's inactivity window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := a.Houses.SweepInactive(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	}
}

func memberPowerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "power <house>",
		Short: "Total voting power of a house",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				power, err := a.Houses.GetTotalVotingPower(ctx, domain.House(args[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"house": args[0], "power": power})
			})
		},
	}
}

func votingCmd() *cobra.Command {
	v := &cobra.Command{Use: "voting", Short: "Run dual-house votings"}
	v.AddCommand(votingCreateCmd())
	v.AddCommand(votingListCmd())
	v.AddCommand(votingShowCmd())
	v.AddCommand(votingCastCmd())
	v.AddCommand(votingFinalizeCmd())
	v.AddCommand(votingFinalizeExpiredCmd())
	v.AddCommand(votingMemoCmd())
	return v
}

func votingCreateCmd() *cobra.Command {
	var req voting.CreateRequest
	var risk string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a voting session for a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RiskLevel = domain.RiskLevel(strings.ToUpper(risk))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Voting.CreateVoting(ctx, req)
				if err != nil {
					return err
				}
				return printVotings(v)
			})
		},
	}
	cmd.Flags().StringVar(&req.ProposalID, "proposal", "", "proposal id")
	cmd.Flags().StringVar(&req.Title, "title", "", "title")
	cmd.Flags().StringVar(&risk, "risk", "MID", "MID or HIGH")
	cmd.Flags().StringVar(&req.Category, "category", "", "category")
	cmd.Flags().IntVar(&req.DurationHours, "hours", 0, "voting duration in hours (0 uses the default)")
	_ = cmd.MarkFlagRequired("proposal")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func votingListCmd() *cobra.Command {
	var statuses []string
	var active, reconciliation bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List votings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.DualHouseVoting
				var err error
				switch {
				case active:
					items, err = a.Voting.GetActiveVotings(ctx)
				case reconciliation:
					items, err = a.Voting.GetVotingsRequiringReconciliation(ctx)
				default:
					var f domain.VotingFilter
					for _, s := range statuses {
						f.Statuses = append(f.Statuses, domain.VotingStatus(s))
					}
					items, err = a.Voting.ListVotings(ctx, f)
				}
				if err != nil {
					return err
				}
				return printVotings(items...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	cmd.Flags().BoolVar(&active, "active", false, "only sessions accepting votes")
	cmd.Flags().BoolVar(&reconciliation, "reconciliation", false, "only split outcomes awaiting a memo")
	return cmd
}

func votingShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <voting-id>",
		Short: "Show a voting with its tallies and votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Voting.GetVoting(ctx, args[0])
				if err != nil {
					return err
				}
				votes, err := a.Voting.ListVotes(ctx, v.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"voting": v, "votes": votes})
				}
				if err := printVotings(v); err != nil {
					return err
				}
				t := newTable("HOUSE", "FOR", "AGAINST", "ABSTAIN", "POSSIBLE", "PARTICIPATION", "QUORUM", "PASSED")
				for _, tl := range []domain.HouseVoteTally{v.MossCoin, v.OpenSource} {
					t.AppendRow(table.Row{tl.House, tl.VotesFor, tl.VotesAgainst, tl.VotesAbstain, tl.TotalPossiblePower,
						fmt.Sprintf("%.1f%%", tl.ParticipationRate), tl.QuorumReached, tl.Passed})
				}
				t.Render()
				vt := newTable("MEMBER", "HOUSE", "CHOICE", "POWER", "CAST AT")
				for _, vote := range votes {
					vt.AppendRow(table.Row{vote.MemberID, vote.House, vote.Choice, vote.VotingPower, vote.CastAt.Format(time.RFC3339)})
				}
				vt.Render()
				return nil
			})
		},
	}
}

func votingCastCmd() *cobra.Command {
	var h, member, choice string
	cmd := &cobra.Command{
		Use:   "cast <voting-id>",
		Short: "Cast a vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				vote, err := a.Voting.CastVote(ctx, args[0], domain.House(h), member, domain.VoteChoice(choice))
				if err != nil {
					return err
				}
				return printJSONOrTable(vote)
			})
		},
	}
	cmd.Flags().StringVar(&h, "house", "", "house of the voter")
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&choice, "choice", "", "for, against or abstain")
	_ = cmd.MarkFlagRequired("house")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func votingFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <voting-id>",
		Short: "Close a session and compute its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Voting.FinalizeVoting(ctx, args[0])
				if err != nil {
					return err
				}
				return printVotings(v)
			})
		},
	}
}

func votingFinalizeExpiredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize-expired",
		Short: "Finalize every open session past its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := a.Voting.FinalizeExpiredVotings(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(ids)
			})
		},
	}
}

func votingMemoCmd() *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "memo <voting-id>",
		Short: "Attach a reconciliation memo to a split outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Voting.AttachReconciliationMemo(ctx, args[0], memo)
				if err != nil {
					return err
				}
				return printVotings(v)
			})
		},
	}
	cmd.Flags().StringVar(&memo, "memo-id", "", "memo id")
	_ = cmd.MarkFlagRequired("memo-id")
	return cmd
}

func delegationCmd() *cobra.Command {
	d := &cobra.Command{Use: "delegation", Short: "Manage vote delegations"}
	var req voting.DelegationRequest
	var scope string
	var ttl time.Duration
	create := &cobra.Command{
		Use:   "create",
		Short: "Delegate voting power within a house",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Scope = domain.DelegationScope(scope)
			if ttl > 0 {
				exp := time.Now().UTC().Add(ttl)
				req.ExpiresAt = &exp
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				del, err := a.Voting.CreateDelegation(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(del)
			})
		},
	}
	create.Flags().StringVar(&req.DelegatorID, "from", "", "delegator member id")
	create.Flags().StringVar(&req.DelegateID, "to", "", "delegate member id")
	create.Flags().StringVar(&scope, "scope", string(domain.ScopeAll), "all, category or proposal")
	create.Flags().StringVar(&req.ScopeValue, "scope-value", "", "category or proposal id for scoped delegations")
	create.Flags().DurationVar(&ttl, "expires-in", 0, "expiry from now, 0 never expires")
	_ = create.MarkFlagRequired("from")
	_ = create.MarkFlagRequired("to")

	var f domain.DelegationFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Voting.ListDelegations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "HOUSE", "FROM", "TO", "SCOPE", "POWER", "ACTIVE")
				for _, del := range items {
					t.AppendRow(table.Row{del.ID, del.House, del.DelegatorID, del.DelegateID,
						strings.TrimSuffix(string(del.Scope)+":"+del.ScopeValue, ":"), del.DelegatedPower, del.Active})
				}
				t.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.DelegatorID, "from", "", "delegator filter")
	list.Flags().StringVar(&f.DelegateID, "to", "", "delegate filter")
	list.Flags().BoolVar(&f.ActiveOnly, "active", false, "only active delegations")

	revoke := &cobra.Command{
		Use:   "revoke <delegation-id>",
		Short: "Revoke a delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				del, err := a.Voting.RevokeDelegation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(del)
			})
		},
	}
	d.AddCommand(create, list, revoke)
	return d
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{Use: "approval", Short: "Drive high-risk approvals"}

	var payloadPath string
	create := &cobra.Command{
		Use:   "create <voting-id>",
		Short: "Open the approval for a passed HIGH risk voting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload domain.ExecutionPayload
			if err := readJSONFile(payloadPath, &payload); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Voting.GetVoting(ctx, args[0])
				if err != nil {
					return err
				}
				created, err := a.Gate.CreateApprovalFromVoting(ctx, v, payload)
				if err != nil {
					return err
				}
				if created == nil {
					return fmt.Errorf("voting %s is %s %s; only HIGH risk sessions passed by both houses need an approval", v.ID, v.RiskLevel, v.Status)
				}
				return printApprovals(*created)
			})
		},
	}
	create.Flags().StringVar(&payloadPath, "payload", "", "execution payload JSON file")
	_ = create.MarkFlagRequired("payload")

	var lock string
	var pending bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Gate.ListApprovals(ctx, domain.ApprovalFilter{LockStatus: domain.LockStatus(strings.ToUpper(lock)), Pending: pending})
				if err != nil {
					return err
				}
				return printApprovals(items...)
			})
		},
	}
	list.Flags().StringVar(&lock, "lock", "", "LOCKED or UNLOCKED")
	list.Flags().BoolVar(&pending, "pending", false, "only approvals not yet executed or rejected")

	status := &cobra.Command{
		Use:   "status <approval-id>",
		Short: "Show an approval with its missing approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Gate.GetApprovalStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}

	houseApprove := &cobra.Command{
		Use:   "house <approval-id> <house>",
		Short: "Record a house approval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Gate.RecordHouseApproval(ctx, args[0], domain.House(args[1]))
				if err != nil {
					return err
				}
				return printApprovals(res)
			})
		},
	}

	var signer string
	director := &cobra.Command{
		Use:   "director3 <approval-id>",
		Short: "Record the Director 3 approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Gate.RecordDirector3Approval(ctx, args[0], signer)
				if err != nil {
					return err
				}
				return printApprovals(res)
			})
		},
	}
	director.Flags().StringVar(&signer, "signer", "", "Director 3 signer id")
	_ = director.MarkFlagRequired("signer")

	execute := &cobra.Command{
		Use:   "execute <approval-id>",
		Short: "Execute an unlocked approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Gate.Execute(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}

	var reason string
	reject := &cobra.Command{
		Use:   "reject <approval-id>",
		Short: "Reject an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Gate.Reject(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printApprovals(res)
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = reject.MarkFlagRequired("reason")

	ap.AddCommand(create, list, status, houseApprove, director, execute, reject)
	return ap
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Run decision pipelines"}

	var req pipeline.CreateRequest
	var risk, actionPath string
	var signals []string
	var run bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a pipeline context",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.RiskLevel = domain.RiskLevel(strings.ToUpper(risk))
			for _, s := range signals {
				src, content, ok := strings.Cut(s, ":")
				if !ok {
					src, content = "cli", s
				}
				req.Signals = append(req.Signals, domain.Signal{Source: src, Kind: "observation", Content: content})
			}
			if actionPath != "" {
				var action domain.ExecutionPayload
				if err := readJSONFile(actionPath, &action); err != nil {
					return err
				}
				req.Action = &action
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pc, err := a.Pipeline.CreateContext(ctx, req)
				if err != nil {
					return err
				}
				if run {
					pc, err = a.Pipeline.Run(ctx, pc.ID)
					if err != nil && pc.ID == "" {
						return err
					}
					if err != nil {
						a.Log.Warn().Err(err).Str("pipeline_id", pc.ID).Msg("pipeline stopped")
					}
				}
				return printPipelines(pc)
			})
		},
	}
	create.Flags().StringVar(&req.ProposalID, "proposal", "", "proposal id")
	create.Flags().StringVar(&req.Title, "title", "", "title")
	create.Flags().StringVar(&req.Description, "description", "", "description")
	create.Flags().StringVar(&req.Category, "category", "", "category")
	create.Flags().StringVar(&risk, "risk", "", "LOW, MID or HIGH (empty lets the classifier decide)")
	create.Flags().StringVar(&actionPath, "action", "", "execution payload JSON file")
	create.Flags().StringArrayVar(&signals, "signal", nil, "signal as source:content (repeatable)")
	create.Flags().BoolVar(&run, "run", false, "run the pipeline right away")
	_ = create.MarkFlagRequired("proposal")

	runCmd := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Run a pending pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return reportPipeline(a.Pipeline.Run(ctx, args[0]))
			})
		},
	}
	resume := &cobra.Command{
		Use:   "resume <pipeline-id>",
		Short: "Resume a locked or failed pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return reportPipeline(a.Pipeline.Resume(ctx, args[0]))
			})
		},
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Pipeline.ListContexts(ctx, domain.PipelineStatus(status))
				if err != nil {
					return err
				}
				return printPipelines(items...)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")

	show := &cobra.Command{
		Use:   "show <pipeline-id>",
		Short: "Show a pipeline context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				pc, err := a.Pipeline.GetContext(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(pc)
			})
		},
	}
	p.AddCommand(create, runCmd, resume, list, show)
	return p
}

// reportPipeline prints the context even when a stage failed, then returns the failure.
func reportPipeline(pc domain.PipelineContext, err error) error {
	if pc.ID != "" {
		if perr := printPipelines(pc); perr != nil {
			return perr
		}
	}
	return err
}

func printMembers(items ...domain.HouseMember) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable("ID", "HOUSE", "IDENTITY", "POWER", "STATUS", "LAST ACTIVE")
	for _, m := range items {
		t.AppendRow(table.Row{m.ID, m.House, m.Identity, m.VotingPower, m.Status, m.LastActiveAt.Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

func printVotings(items ...domain.DualHouseVoting) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable("ID", "PROPOSAL", "RISK", "STATUS", "MOC FOR/AGAINST", "OSS FOR/AGAINST", "ENDS AT")
	for _, v := range items {
		t.AppendRow(table.Row{v.ID, v.ProposalID, v.RiskLevel, v.Status,
			fmt.Sprintf("%d/%d", v.MossCoin.VotesFor, v.MossCoin.VotesAgainst),
			fmt.Sprintf("%d/%d", v.OpenSource.VotesFor, v.OpenSource.VotesAgainst),
			v.EndsAt.Format(time.RFC3339)})
	}
	t.Render()
	return nil
}

func printApprovals(items ...domain.HighRiskApproval) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable("ID", "PROPOSAL", "ACTION", "MOC", "OSS", "DIRECTOR 3", "LOCK", "EXECUTED")
	for _, a := range items {
		t.AppendRow(table.Row{a.ID, a.ProposalID, a.ActionType, a.MossCoinHouse, a.OpenSourceHouse, a.Director3, a.LockStatus, a.ExecutedAt != nil})
	}
	t.Render()
	return nil
}

func printPipelines(items ...domain.PipelineContext) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable("ID", "PROPOSAL", "RISK", "STATUS", "STAGE", "DONE", "ERROR")
	for _, pc := range items {
		t.AppendRow(table.Row{pc.ID, pc.ProposalID, pc.RiskLevel, pc.Status, pc.Stage,
			fmt.Sprintf("%d/%d", len(pc.CompletedStages), len(domain.Stages)), pc.Error})
	}
	t.Render()
	return nil
}
